package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"example.com/panelstages/internal/metrics"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.New()
	})

	It("counts stage derivations and navigation checks", func() {
		m.ObserveStage("tagging", "open")
		m.ObserveStage("tagging", "open")
		m.ObserveNavigation("voting", false)

		n, err := testutil.GatherAndCount(m.Registry(), "panel_stage_derivations_total", "panel_navigation_checks_total")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
	})

	It("splits batch results and accumulates upserts", func() {
		m.ObserveBatch(3, nil)
		m.ObserveBatch(0, errors.New("boom"))
		m.ObserveDropped(2)
		m.ObserveDropped(0)

		n, err := testutil.GatherAndCount(m.Registry(), "panel_sync_batches_total")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
	})

	It("is a no-op on a nil receiver", func() {
		var nilMetrics *metrics.Metrics
		Expect(func() {
			nilMetrics.ObserveStage("question", "open")
			nilMetrics.ObserveBatch(1, nil)
			nilMetrics.ObserveUpstream(nil)
		}).NotTo(Panic())
	})

	It("serves the exposition format", func() {
		m.ObserveUpstream(nil)
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body, _ := io.ReadAll(rec.Body)
		Expect(string(body)).To(ContainSubstring(`panel_upstream_fetches_total{result="ok"} 1`))
	})
})
