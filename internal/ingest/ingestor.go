package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"example.com/panelstages/internal/domain"
	"example.com/panelstages/internal/metrics"
)

// PanelWriter persists a batch of panels and reports how many rows changed.
type PanelWriter interface {
	UpsertBatch(ctx context.Context, items []domain.Panel) (int64, error)
}

// Ingestor buffers fetched panels and writes them to the cache in batches,
// flushing when a batch fills up or batchMaxWait elapses.
type Ingestor struct {
	queue        chan domain.Panel
	writer       PanelWriter
	batchMaxSize int
	batchMaxWait time.Duration
	log          *slog.Logger
	metrics      *metrics.Metrics
	done         chan struct{}

	mu      sync.RWMutex
	stopped bool
}

func NewIngestor(writer PanelWriter, queueMaxSize, batchMaxSize int, batchMaxWait time.Duration, log *slog.Logger, m *metrics.Metrics) *Ingestor {
	return &Ingestor{
		queue:        make(chan domain.Panel, queueMaxSize),
		writer:       writer,
		batchMaxSize: batchMaxSize,
		batchMaxWait: batchMaxWait,
		log:          log,
		metrics:      m,
		done:         make(chan struct{}),
	}
}

// Start runs the flush loop until ctx is cancelled. Pending panels are
// flushed once more on shutdown, using a short detached context.
func (ig *Ingestor) Start(ctx context.Context) {
	go func() {
		defer close(ig.done)
		batch := make([]domain.Panel, 0, ig.batchMaxSize)
		t := time.NewTimer(ig.batchMaxWait)
		defer t.Stop()

		resetTimer := func() {
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(ig.batchMaxWait)
		}

		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				resetTimer()
				return
			}
			affected, err := ig.writer.UpsertBatch(ctx, batch)
			ig.metrics.ObserveBatch(affected, err)
			if err != nil {
				ig.log.Error("panel batch upsert failed", "error", err, "dropped", len(batch))
				ig.metrics.ObserveDropped(len(batch))
			} else {
				ig.log.Debug("panel batch upserted", "changed", affected, "size", len(batch))
			}
			batch = batch[:0]
			resetTimer()
		}

		for {
			select {
			case <-ctx.Done():
				ig.mu.Lock()
				ig.stopped = true
				ig.mu.Unlock()
			drain:
				for {
					select {
					case p := <-ig.queue:
						batch = append(batch, p)
					default:
						break drain
					}
				}
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				flush(shutdownCtx)
				cancel()
				return
			case p := <-ig.queue:
				batch = append(batch, p)
				if len(batch) >= ig.batchMaxSize {
					flush(ctx)
				}
			case <-t.C:
				flush(ctx)
			}
		}
	}()
}

// Enqueue adds p without blocking. It reports false when the queue is full
// or the flush loop has begun shutting down.
func (ig *Ingestor) Enqueue(p domain.Panel) bool {
	ig.mu.RLock()
	defer ig.mu.RUnlock()
	if ig.stopped {
		ig.log.Warn("panel rejected after shutdown", "panel_id", p.ID)
		ig.metrics.ObserveDropped(1)
		return false
	}
	select {
	case ig.queue <- p:
		return true
	default:
		ig.metrics.ObserveDropped(1)
		return false
	}
}

// Done is closed once the flush loop has exited.
func (ig *Ingestor) Done() <-chan struct{} { return ig.done }
