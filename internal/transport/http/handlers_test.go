package transporthttp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"example.com/panelstages/internal/config"
	"example.com/panelstages/internal/domain"
	"example.com/panelstages/internal/idempotency"
	"example.com/panelstages/internal/ingest"
	"example.com/panelstages/internal/logging"
	"example.com/panelstages/internal/metrics"
	"example.com/panelstages/internal/panelapi"
	spg "example.com/panelstages/internal/storage/postgres"
	transport "example.com/panelstages/internal/transport/http"
)

type memStore struct {
	mu      sync.Mutex
	panels  map[string]domain.Panel
	readyOK bool
	failGet bool
}

func newMemStore() *memStore {
	return &memStore{panels: map[string]domain.Panel{}, readyOK: true}
}

func (m *memStore) GetPanel(ctx context.Context, id string) (spg.StoredPanel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return spg.StoredPanel{}, errors.New("connection reset")
	}
	p, ok := m.panels[id]
	if !ok {
		return spg.StoredPanel{}, spg.ErrNotFound
	}
	return spg.StoredPanel{Panel: p, Fingerprint: idempotency.Fingerprint(&p)}, nil
}

func (m *memStore) ListPanels(ctx context.Context, after string, limit int) ([]spg.StoredPanel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []spg.StoredPanel
	for _, id := range []string{"p-1", "p-2", "p-3"} {
		if p, ok := m.panels[id]; ok && id > after && len(out) < limit {
			out = append(out, spg.StoredPanel{Panel: p})
		}
	}
	return out, nil
}

func (m *memStore) Ready(ctx context.Context) error {
	if !m.readyOK {
		return errors.New("down")
	}
	return nil
}

func (m *memStore) UpsertBatch(ctx context.Context, items []domain.Panel) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range items {
		m.panels[p.ID] = p
	}
	return int64(len(items)), nil
}

type fakeUpstream struct {
	panels map[string]domain.Panel
	err    error
}

func (f *fakeUpstream) GetPanel(ctx context.Context, id string) (domain.Panel, error) {
	if f.err != nil {
		return domain.Panel{}, f.err
	}
	p, ok := f.panels[id]
	if !ok {
		return domain.Panel{}, panelapi.ErrNotFound
	}
	return p, nil
}

func samplePanel(id string) domain.Panel {
	return domain.Panel{
		ID:               id,
		Name:             "Systems Panel",
		PresentationTime: "2024-02-05T17:00:00Z",
		StageDeadlines: map[string]string{
			domain.DeadlineQuestion: "2024-01-10T00:00:00Z",
			domain.DeadlineTagging:  "2024-01-20T00:00:00Z",
			domain.DeadlineVoting:   "2024-01-30T00:00:00Z",
		},
	}
}

type stagesBody struct {
	PanelID             string  `json:"panel_id"`
	Locale              string  `json:"locale"`
	PresentationDisplay string  `json:"presentation_display"`
	CurrentStage        *string `json:"current_stage"`
	Stages              []struct {
		Key             string     `json:"key"`
		Status          string     `json:"status"`
		Deadline        *time.Time `json:"deadline"`
		DeadlineDisplay string     `json:"deadline_display"`
		DeadlineTime    string     `json:"deadline_display_time"`
		CanNavigate     bool       `json:"can_navigate"`
	} `json:"stages"`
}

var _ = Describe("Router", func() {
	var (
		store    *memStore
		upstream *fakeUpstream
		deps     *transport.ServerDeps
		handler  http.Handler
		now      time.Time
		ingestor *ingest.Ingestor
	)

	do := func(method, target, body string, headers ...string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, target, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
		} else {
			req = httptest.NewRequest(method, target, nil)
		}
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		store = newMemStore()
		store.panels["p-1"] = samplePanel("p-1")
		upstream = &fakeUpstream{panels: map[string]domain.Panel{}}
		now = time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
		cfg, err := config.ParseEnviron(map[string]string{})
		Expect(err).NotTo(HaveOccurred())
		ingestor = ingest.NewIngestor(store, 10, 10, time.Hour, logging.Discard(), nil)
		deps = &transport.ServerDeps{
			Cfg:      cfg,
			Store:    store,
			Writer:   store,
			Ingestor: ingestor,
			Upstream: upstream,
			Metrics:  metrics.New(),
			Log:      logging.Discard(),
			Now:      func() time.Time { return now },
		}
		handler = deps.Router()
	})

	Describe("health", func() {
		It("reports liveness and readiness", func() {
			Expect(do("GET", "/healthz", "").Code).To(Equal(http.StatusOK))
			Expect(do("GET", "/readyz", "").Code).To(Equal(http.StatusOK))
			store.readyOK = false
			Expect(do("GET", "/readyz", "").Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Describe("GET /panels/{id}/stages", func() {
		It("derives stages at the server clock", func() {
			rec := do("GET", "/panels/p-1/stages", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body stagesBody
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.PanelID).To(Equal("p-1"))
			Expect(body.Locale).To(Equal("en-US"))
			Expect(body.PresentationDisplay).To(Equal("February 5, 2024"))
			Expect(body.Stages).To(HaveLen(3))
			Expect(body.Stages[0].Status).To(Equal("closed"))
			Expect(body.Stages[1].Status).To(Equal("open"))
			Expect(body.Stages[1].CanNavigate).To(BeTrue())
			Expect(body.Stages[1].DeadlineDisplay).To(Equal("January 20, 2024"))
			Expect(*body.CurrentStage).To(Equal("tagging"))
		})

		It("honors an explicit time and locale", func() {
			rec := do("GET", "/panels/p-1/stages?at=2024-02-01T00:00:00Z&locale=fr", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var body stagesBody
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Locale).To(Equal("fr"))
			Expect(body.CurrentStage).To(BeNil())
			for _, s := range body.Stages {
				Expect(s.Status).To(Equal("closed"))
			}
			Expect(body.Stages[0].DeadlineDisplay).To(Equal("10 janvier 2024"))
		})

		It("tells apart same-day deadlines by time of day", func() {
			p := samplePanel("p-2")
			p.StageDeadlines[domain.DeadlineTagging] = "2024-01-20T09:00:00Z"
			p.StageDeadlines[domain.DeadlineVoting] = "2024-01-20T17:30:00Z"
			store.panels["p-2"] = p

			rec := do("GET", "/panels/p-2/stages", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var body stagesBody
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Stages[1].DeadlineDisplay).To(Equal(body.Stages[2].DeadlineDisplay))
			Expect(body.Stages[1].DeadlineTime).To(Equal("January 20, 2024 at 9:00 AM"))
			Expect(body.Stages[2].DeadlineTime).To(Equal("January 20, 2024 at 5:30 PM"))
		})

		It("falls back to Accept-Language", func() {
			rec := do("GET", "/panels/p-1/stages", "", "Accept-Language", "de-DE,de;q=0.9")
			var body stagesBody
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Locale).To(Equal("de"))
		})

		It("reports unknown stages with null deadlines", func() {
			store.panels["p-2"] = domain.Panel{ID: "p-2", Name: "Empty"}
			rec := do("GET", "/panels/p-2/stages", "")
			var body stagesBody
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			for _, s := range body.Stages {
				Expect(s.Status).To(Equal("unknown"))
				Expect(s.Deadline).To(BeNil())
				Expect(s.CanNavigate).To(BeFalse())
			}
		})

		It("returns 304 for a matching ETag on a pinned time", func() {
			first := do("GET", "/panels/p-1/stages?at=2024-01-15T00:00:00Z", "")
			etag := first.Header().Get("ETag")
			Expect(etag).NotTo(BeEmpty())
			second := do("GET", "/panels/p-1/stages?at=2024-01-15T00:00:00Z", "", "If-None-Match", etag)
			Expect(second.Code).To(Equal(http.StatusNotModified))
		})

		It("rejects a malformed time", func() {
			Expect(do("GET", "/panels/p-1/stages?at=yesterday", "").Code).To(Equal(http.StatusBadRequest))
		})

		It("fetches from upstream on a cache miss and queues the panel", func() {
			upstream.panels["p-9"] = samplePanel("")
			rec := do("GET", "/panels/p-9/stages", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			var body stagesBody
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.PanelID).To(Equal("p-9"))
		})

		DescribeTable("maps upstream failures",
			func(upErr error, code int) {
				upstream.err = upErr
				Expect(do("GET", "/panels/p-404/stages", "").Code).To(Equal(code))
			},
			Entry("not found", panelapi.ErrNotFound, http.StatusNotFound),
			Entry("unauthorized", panelapi.ErrUnauthorized, http.StatusBadGateway),
			Entry("other", &panelapi.StatusError{Code: 500}, http.StatusBadGateway),
		)

		It("returns 500 when the store fails", func() {
			store.failGet = true
			Expect(do("GET", "/panels/p-1/stages", "").Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("GET /panels/{id}/stages/{stage}", func() {
		It("allows an open stage", func() {
			rec := do("GET", "/panels/p-1/stages/tagging", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"allowed":true`))
		})

		It("refuses a closed stage with 409", func() {
			rec := do("GET", "/panels/p-1/stages/question", "")
			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(rec.Body.String()).To(ContainSubstring(`"status":"closed"`))
		})

		It("refuses a stage with an unknown deadline", func() {
			store.panels["p-2"] = domain.Panel{ID: "p-2", Name: "Empty"}
			rec := do("GET", "/panels/p-2/stages/voting", "")
			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(rec.Body.String()).To(ContainSubstring(`"status":"unknown"`))
		})

		It("returns 404 for an undefined stage key", func() {
			rec := do("GET", "/panels/p-1/stages/grading", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(rec.Body.String()).To(ContainSubstring("unknown stage"))
		})
	})

	Describe("panels", func() {
		It("returns a stored panel in the API shape", func() {
			rec := do("GET", "/panels/p-1", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"PanelName":"Systems Panel"`))
			Expect(rec.Header().Get("ETag")).NotTo(BeEmpty())
		})

		It("stores a valid posted panel and assigns an id", func() {
			rec := do("POST", "/panels", `{"PanelName":"New","TagStageDeadline":"2024-03-01T00:00:00Z"}`)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			var body map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["PanelID"]).To(HavePrefix(domain.PanelIDPrefix))
			Expect(store.panels).To(HaveKey(body["PanelID"]))
		})

		It("rejects an invalid posted panel", func() {
			rec := do("POST", "/panels", `{"PanelName":"","VoteStageDeadline":"whenever"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("VoteStageDeadline"))
		})

		It("requires json on POST", func() {
			req := httptest.NewRequest("POST", "/panels", strings.NewReader("PanelName=x"))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusUnsupportedMediaType))
		})

		It("queues bulk panels", func() {
			rec := do("POST", "/panels/bulk", `{"panels":[{"PanelID":"p-2","PanelName":"A"},{"PanelName":"B"}]}`)
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(rec.Body.String()).To(ContainSubstring(`"accepted_count":2`))
		})

		It("lists with a cursor", func() {
			store.panels["p-2"] = samplePanel("p-2")
			rec := do("GET", "/panels?limit=1", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"next_after":"p-1"`))
			Expect(do("GET", "/panels?limit=zero", "").Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("auth", func() {
		BeforeEach(func() {
			deps.Cfg.APITokens = map[string]struct{}{"secret": {}}
			handler = deps.Router()
		})

		It("requires a valid bearer token", func() {
			Expect(do("GET", "/panels/p-1/stages", "").Code).To(Equal(http.StatusUnauthorized))
			Expect(do("GET", "/panels/p-1/stages", "", "Authorization", "Bearer wrong").Code).To(Equal(http.StatusUnauthorized))
			Expect(do("GET", "/panels/p-1/stages", "", "Authorization", "Bearer secret").Code).To(Equal(http.StatusOK))
		})

		It("leaves health checks open", func() {
			Expect(do("GET", "/healthz", "").Code).To(Equal(http.StatusOK))
		})
	})

	Describe("GET /metrics", func() {
		It("serves counters and rate limits scrapes", func() {
			deps.Cfg.RateLimitPerMin = 1
			handler = deps.Router()
			do("GET", "/panels/p-1/stages", "")
			first := do("GET", "/metrics", "")
			Expect(first.Code).To(Equal(http.StatusOK))
			Expect(first.Body.String()).To(ContainSubstring("panel_stage_derivations_total"))
			Expect(do("GET", "/metrics", "").Code).To(Equal(http.StatusTooManyRequests))
		})
	})
})
