package ingest

import (
	"context"
	"log/slog"
	"time"

	"example.com/panelstages/internal/domain"
	"example.com/panelstages/internal/metrics"
)

// PanelLister lists panels from the upstream API.
type PanelLister interface {
	ListPanels(ctx context.Context) ([]domain.Panel, error)
}

// Poller periodically lists upstream panels and hands them to the Ingestor.
type Poller struct {
	lister   PanelLister
	ingestor *Ingestor
	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewPoller(lister PanelLister, ingestor *Ingestor, interval time.Duration, log *slog.Logger, m *metrics.Metrics) *Poller {
	return &Poller{lister: lister, ingestor: ingestor, interval: interval, log: log, metrics: m}
}

// Run polls immediately and then every interval until ctx is done.
// A non-positive interval performs a single poll.
func (p *Poller) Run(ctx context.Context) {
	p.PollOnce(ctx)
	if p.interval <= 0 {
		return
	}
	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce lists upstream panels and enqueues them. It returns the number
// enqueued; panels without an id are skipped.
func (p *Poller) PollOnce(ctx context.Context) int {
	panels, err := p.lister.ListPanels(ctx)
	p.metrics.ObserveUpstream(err)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("upstream panel list failed", "error", err)
		}
		return 0
	}

	queued, dropped := 0, 0
	for _, panel := range panels {
		if panel.ID == "" {
			p.log.Warn("skipping upstream panel without id", "name", panel.Name)
			continue
		}
		if p.ingestor.Enqueue(panel) {
			queued++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		p.log.Warn("sync queue full", "dropped", dropped)
	}
	p.log.Debug("upstream panels polled", "listed", len(panels), "queued", queued)
	return queued
}
