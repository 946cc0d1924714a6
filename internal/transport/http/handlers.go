package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"example.com/panelstages/internal/config"
	"example.com/panelstages/internal/domain"
	"example.com/panelstages/internal/idempotency"
	"example.com/panelstages/internal/ingest"
	"example.com/panelstages/internal/metrics"
	"example.com/panelstages/internal/panelapi"
	"example.com/panelstages/internal/stage"
	spg "example.com/panelstages/internal/storage/postgres"
)

// PanelStore is the cached panel store.
type PanelStore interface {
	GetPanel(ctx context.Context, id string) (spg.StoredPanel, error)
	ListPanels(ctx context.Context, after string, limit int) ([]spg.StoredPanel, error)
	Ready(ctx context.Context) error
}

// PanelFetcher reads a single panel from the upstream API.
type PanelFetcher interface {
	GetPanel(ctx context.Context, id string) (domain.Panel, error)
}

type ServerDeps struct {
	Cfg      config.Config
	Store    PanelStore
	Writer   ingest.PanelWriter
	Ingestor *ingest.Ingestor
	// Upstream is consulted on a cache miss. Optional.
	Upstream PanelFetcher
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	Now      func() time.Time
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.Ready(r.Context()); err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, "not ready", "database not reachable", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// --- Panels ---

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBulkPanels    = 100
)

type listResp struct {
	Panels    []domain.Panel `json:"panels"`
	NextAfter string         `json:"next_after,omitempty"`
}

func (d *ServerDeps) HandleListPanels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			WriteProblem(w, http.StatusBadRequest, "invalid parameters", "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxListLimit)
	}

	stored, err := d.Store.ListPanels(r.Context(), q.Get("after"), limit)
	if err != nil {
		d.Log.Error("list panels failed", "error", err)
		WriteProblem(w, http.StatusInternalServerError, "query error", "could not list panels", nil)
		return
	}
	resp := listResp{Panels: make([]domain.Panel, 0, len(stored))}
	for _, sp := range stored {
		resp.Panels = append(resp.Panels, sp.Panel)
	}
	if len(stored) == limit {
		resp.NextAfter = stored[len(stored)-1].Panel.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *ServerDeps) HandlePostPanel(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var p domain.Panel
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	if errs := domain.ValidatePanel(&p); len(errs) > 0 {
		prob := map[string][]string{}
		for _, fe := range errs {
			prob[fe.Field] = append(prob[fe.Field], fe.Msg)
		}
		WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", prob)
		return
	}
	if p.ID == "" {
		p.ID = domain.NewPanelID()
	}

	if _, err := d.Writer.UpsertBatch(r.Context(), []domain.Panel{p}); err != nil {
		d.Log.Error("store panel failed", "panel_id", p.ID, "error", err)
		WriteProblem(w, http.StatusInternalServerError, "store error", "could not store panel", nil)
		return
	}
	d.Log.Info("panel stored", "panel_id", p.ID)

	w.Header().Set("Location", "/panels/"+p.ID)
	w.Header().Set("ETag", idempotency.ETag(idempotency.Fingerprint(&p), ""))
	writeJSON(w, http.StatusCreated, map[string]string{"message": "panel stored", "PanelID": p.ID})
}

type bulkReq struct {
	Panels []domain.Panel `json:"panels"`
}

func (d *ServerDeps) HandlePostPanelsBulk(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	if d.Ingestor == nil {
		WriteProblem(w, http.StatusServiceUnavailable, "unavailable", "bulk ingest is not enabled", nil)
		return
	}
	var br bulkReq
	if err := decodeJSONStrict(r, &br); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	ptrs := make([]*domain.Panel, len(br.Panels))
	for i := range br.Panels {
		ptrs[i] = &br.Panels[i]
	}
	if all, top := domain.ValidateBatch(ptrs, maxBulkPanels); top != nil {
		prob := map[string][]string{}
		for i, arr := range all {
			k := "panels[" + strconv.Itoa(i) + "]"
			for _, fe := range arr {
				prob[k+"."+fe.Field] = append(prob[k+"."+fe.Field], fe.Msg)
			}
		}
		WriteProblem(w, http.StatusBadRequest, "validation failed", top.Error(), prob)
		return
	}

	ids := make([]string, 0, len(br.Panels))
	for _, p := range br.Panels {
		if p.ID == "" {
			p.ID = domain.NewPanelID()
		}
		if ok := d.Ingestor.Enqueue(p); !ok {
			WriteProblem(w, http.StatusServiceUnavailable, "overloaded", "sync queue is full, please retry", nil)
			return
		}
		ids = append(ids, p.ID)
	}
	d.Log.Info("panels queued (bulk)", "count", len(ids))

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted_count": len(ids), "PanelIDs": ids})
}

func (d *ServerDeps) HandleGetPanel(w http.ResponseWriter, r *http.Request) {
	sp, ok := d.lookupPanel(w, r)
	if !ok {
		return
	}
	etag := idempotency.ETag(sp.Fingerprint, "")
	if notModified(w, r, etag) {
		return
	}
	writeJSON(w, http.StatusOK, sp.Panel)
}

// --- Stages ---

type stageView struct {
	Key                 string       `json:"key"`
	Title               string       `json:"title"`
	Status              stage.Status `json:"status"`
	Deadline            *time.Time   `json:"deadline"`
	DeadlineDisplay     string       `json:"deadline_display,omitempty"`
	DeadlineDisplayTime string       `json:"deadline_display_time,omitempty"`
	CanNavigate         bool         `json:"can_navigate"`
}

type stagesResp struct {
	PanelID             string      `json:"panel_id"`
	PanelName           string      `json:"panel_name"`
	At                  time.Time   `json:"at"`
	Locale              string      `json:"locale"`
	PresentationDisplay string      `json:"presentation_display,omitempty"`
	CurrentStage        *string     `json:"current_stage"`
	Stages              []stageView `json:"stages"`
}

func (d *ServerDeps) HandleGetStages(w http.ResponseWriter, r *http.Request) {
	now, ok := d.requestTime(w, r)
	if !ok {
		return
	}
	sp, ok := d.lookupPanel(w, r)
	if !ok {
		return
	}
	locale := d.requestLocale(r)

	// Only a pinned time makes the representation cacheable.
	if r.URL.Query().Get("at") != "" {
		etag := idempotency.ETag(sp.Fingerprint, now.UTC().Format(time.RFC3339Nano)+"|"+locale)
		if notModified(w, r, etag) {
			return
		}
	}

	stages := stage.DeriveStages(sp.Panel, now)
	resp := stagesResp{
		PanelID:   sp.Panel.ID,
		PanelName: sp.Panel.Name,
		At:        now.UTC(),
		Locale:    locale,
		Stages:    make([]stageView, 0, len(stages)),
	}
	if t, ok := domain.ParseTimestamp(sp.Panel.PresentationTime); ok {
		resp.PresentationDisplay = stage.FormatDeadline(t, locale)
	}
	if cur, ok := stage.Current(stages); ok {
		resp.CurrentStage = &cur.Key
	}
	for _, s := range stages {
		d.Metrics.ObserveStage(s.Key, string(s.Status))
		v := stageView{
			Key:         s.Key,
			Title:       s.Title,
			Status:      s.Status,
			Deadline:    s.Deadline,
			CanNavigate: s.Status == stage.StatusOpen,
		}
		if s.Deadline != nil {
			v.DeadlineDisplay = stage.FormatDeadline(*s.Deadline, locale)
			v.DeadlineDisplayTime = stage.FormatDeadlineTime(*s.Deadline, locale)
		}
		resp.Stages = append(resp.Stages, v)
	}
	writeJSON(w, http.StatusOK, resp)
}

type navigationResp struct {
	PanelID string       `json:"panel_id"`
	Stage   string       `json:"stage"`
	Status  stage.Status `json:"status"`
	Allowed bool         `json:"allowed"`
}

func (d *ServerDeps) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("stage")
	if _, ok := stage.Lookup(key); !ok {
		WriteProblemMeta(w, http.StatusNotFound, "unknown stage", "stage "+strconv.Quote(key)+" is not defined", map[string]any{"stages": stageKeys()})
		return
	}
	now, ok := d.requestTime(w, r)
	if !ok {
		return
	}
	sp, ok := d.lookupPanel(w, r)
	if !ok {
		return
	}

	st, err := stage.StatusOf(sp.Panel, key, now)
	if err != nil {
		// Lookup above already rejected unknown keys.
		WriteProblem(w, http.StatusInternalServerError, "stage error", err.Error(), nil)
		return
	}
	allowed := st.Status == stage.StatusOpen
	d.Metrics.ObserveNavigation(key, allowed)

	if !allowed {
		WriteProblemMeta(w, http.StatusConflict, "stage not open", "stage "+key+" is "+string(st.Status), map[string]any{
			"panel_id": sp.Panel.ID,
			"stage":    key,
			"status":   st.Status,
		})
		return
	}
	writeJSON(w, http.StatusOK, navigationResp{PanelID: sp.Panel.ID, Stage: key, Status: st.Status, Allowed: true})
}

func stageKeys() []string {
	defs := stage.Definitions()
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Key
	}
	return out
}

// --- helpers ---

// lookupPanel reads the cached panel, falling back to the upstream API on a
// miss. Upstream hits are queued for caching. It writes the error response itself.
func (d *ServerDeps) lookupPanel(w http.ResponseWriter, r *http.Request) (spg.StoredPanel, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", "panel id is required", nil)
		return spg.StoredPanel{}, false
	}

	sp, err := d.Store.GetPanel(r.Context(), id)
	if err == nil {
		return sp, true
	}
	if !errors.Is(err, spg.ErrNotFound) {
		d.Log.Error("get panel failed", "panel_id", id, "error", err)
		WriteProblem(w, http.StatusInternalServerError, "query error", "could not read panel", nil)
		return spg.StoredPanel{}, false
	}
	if d.Upstream == nil {
		WriteProblem(w, http.StatusNotFound, "not found", "panel "+id+" not found", nil)
		return spg.StoredPanel{}, false
	}

	p, err := d.Upstream.GetPanel(r.Context(), id)
	d.Metrics.ObserveUpstream(err)
	switch {
	case err == nil:
	case errors.Is(err, panelapi.ErrNotFound):
		WriteProblem(w, http.StatusNotFound, "not found", "panel "+id+" not found", nil)
		return spg.StoredPanel{}, false
	case errors.Is(err, panelapi.ErrUnauthorized):
		d.Log.Error("upstream rejected credentials", "panel_id", id)
		WriteProblem(w, http.StatusBadGateway, "upstream error", "panel service rejected our credentials", nil)
		return spg.StoredPanel{}, false
	default:
		d.Log.Warn("upstream fetch failed", "panel_id", id, "error", err)
		WriteProblem(w, http.StatusBadGateway, "upstream error", "panel service unavailable", nil)
		return spg.StoredPanel{}, false
	}

	p.ID = id
	if d.Ingestor != nil && !d.Ingestor.Enqueue(p) {
		d.Log.Warn("sync queue full; panel served uncached", "panel_id", id)
	}
	return spg.StoredPanel{Panel: p, Fingerprint: idempotency.Fingerprint(&p)}, true
}

// requestTime returns the explicit ?at= instant or the server clock.
func (d *ServerDeps) requestTime(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	at := r.URL.Query().Get("at")
	if at == "" {
		return d.Now(), true
	}
	t, ok := domain.ParseTimestamp(at)
	if !ok {
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", "at must be an ISO-8601 timestamp", nil)
		return time.Time{}, false
	}
	return t, true
}

func (d *ServerDeps) requestLocale(r *http.Request) string {
	if l := r.URL.Query().Get("locale"); l != "" {
		return stage.ResolveLocale(l).String()
	}
	if l := r.Header.Get("Accept-Language"); l != "" {
		return stage.ResolveLocale(l).String()
	}
	return stage.ResolveLocale(d.Cfg.DefaultLocale).String()
}

func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	w.Header().Set("ETag", etag)
	for _, candidate := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		if c := strings.TrimSpace(candidate); c == etag || c == "*" {
			w.WriteHeader(http.StatusNotModified)
			return true
		}
	}
	return false
}

// --- Serve OpenAPI (convenience) ---

func (d *ServerDeps) HandleOpenAPI(w http.ResponseWriter, r *http.Request) {
	wd, _ := os.Getwd()
	p := filepath.Join(wd, "api", "openapi.yaml")
	http.ServeFile(w, r, p)
}

// --- Router ---

func (d *ServerDeps) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.HandleHealthz)
	mux.HandleFunc("GET /readyz", d.HandleReadyz)
	mux.HandleFunc("GET /openapi.yaml", d.HandleOpenAPI)

	auth := BearerAuth(d.Cfg.APITokens)

	var postPanel http.Handler = http.HandlerFunc(d.HandlePostPanel)
	postPanel = BodyLimit(d.Cfg.MaxBodyBytes)(postPanel)
	postPanel = RequireJSON(postPanel)
	postPanel = auth(postPanel)
	mux.Handle("POST /panels", postPanel)

	var postBulk http.Handler = http.HandlerFunc(d.HandlePostPanelsBulk)
	postBulk = BodyLimit(d.Cfg.MaxBodyBytes)(postBulk)
	postBulk = RequireJSON(postBulk)
	postBulk = auth(postBulk)
	mux.Handle("POST /panels/bulk", postBulk)

	mux.Handle("GET /panels", auth(http.HandlerFunc(d.HandleListPanels)))
	mux.Handle("GET /panels/{id}", auth(http.HandlerFunc(d.HandleGetPanel)))
	mux.Handle("GET /panels/{id}/stages", auth(http.HandlerFunc(d.HandleGetStages)))
	mux.Handle("GET /panels/{id}/stages/{stage}", auth(http.HandlerFunc(d.HandleNavigate)))

	var getMetrics = d.Metrics.Handler()
	getMetrics = RateLimitPerMinute(d.Cfg.RateLimitPerMin, d.Now)(getMetrics)
	getMetrics = auth(getMetrics)
	mux.Handle("GET /metrics", getMetrics)

	return mux
}
