package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Deadline keys used in Panel.StageDeadlines.
const (
	DeadlineQuestion = "question"
	DeadlineTagging  = "tagging"
	DeadlineVoting   = "voting"
)

// Panel is a scheduled presentation with its stage deadlines, as fetched from
// the panel API. Timestamps are kept as the raw strings the API sent so that a
// malformed value never prevents the rest of the record from decoding.
type Panel struct {
	ID               string
	Name             string
	Description      string
	PanelistName     string
	VideoLink        string
	PresentationTime string
	QuestionCount    int
	StageDeadlines   map[string]string
}

// Validation constraints for panels written through the API.
const (
	MaxPanelIDLen      = 64
	MaxPanelNameLen    = 256
	MaxDescriptionLen  = 4096
	MaxPanelistNameLen = 256
	MaxVideoLinkLen    = 2048
	PanelIDPrefix      = "p-"
)

// NewPanelID returns a fresh panel identifier in the backend's p-<uuid> form.
func NewPanelID() string {
	return PanelIDPrefix + uuid.NewString()
}

// Deadline returns the raw deadline stored for key and whether it is present.
func (p Panel) Deadline(key string) (string, bool) {
	v, ok := p.StageDeadlines[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// WithDeadline returns a copy of p with the deadline for key replaced.
func (p Panel) WithDeadline(key, value string) Panel {
	m := make(map[string]string, len(p.StageDeadlines)+1)
	for k, v := range p.StageDeadlines {
		m[k] = v
	}
	m[key] = value
	p.StageDeadlines = m
	return p
}

// panelWire mirrors the record served by GET /panel/{id}.
type panelWire struct {
	PanelID               string          `json:"PanelID,omitempty"`
	PanelName             string          `json:"PanelName"`
	PanelDesc             string          `json:"PanelDesc,omitempty"`
	Panelist              string          `json:"Panelist,omitempty"`
	PanelVideoLink        string          `json:"PanelVideoLink,omitempty"`
	PanelPresentationDate string          `json:"PanelPresentationDate,omitempty"`
	NumberOfQuestions     json.RawMessage `json:"NumberOfQuestions,omitempty"`
	QuestionStageDeadline json.RawMessage `json:"QuestionStageDeadline,omitempty"`
	TagStageDeadline      json.RawMessage `json:"TagStageDeadline,omitempty"`
	VoteStageDeadline     json.RawMessage `json:"VoteStageDeadline,omitempty"`
}

func (p *Panel) UnmarshalJSON(b []byte) error {
	var w panelWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*p = Panel{
		ID:               w.PanelID,
		Name:             w.PanelName,
		Description:      w.PanelDesc,
		PanelistName:     w.Panelist,
		VideoLink:        w.PanelVideoLink,
		PresentationTime: w.PanelPresentationDate,
		QuestionCount:    decodeCount(w.NumberOfQuestions),
		StageDeadlines:   map[string]string{},
	}
	for key, raw := range map[string]json.RawMessage{
		DeadlineQuestion: w.QuestionStageDeadline,
		DeadlineTagging:  w.TagStageDeadline,
		DeadlineVoting:   w.VoteStageDeadline,
	} {
		if v, ok := decodeRawString(raw); ok {
			p.StageDeadlines[key] = v
		}
	}
	return nil
}

func (p Panel) MarshalJSON() ([]byte, error) {
	w := panelWire{
		PanelID:               p.ID,
		PanelName:             p.Name,
		PanelDesc:             p.Description,
		Panelist:              p.PanelistName,
		PanelVideoLink:        p.VideoLink,
		PanelPresentationDate: p.PresentationTime,
		NumberOfQuestions:     json.RawMessage(strconv.Itoa(p.QuestionCount)),
	}
	if v, ok := p.Deadline(DeadlineQuestion); ok {
		w.QuestionStageDeadline, _ = json.Marshal(v)
	}
	if v, ok := p.Deadline(DeadlineTagging); ok {
		w.TagStageDeadline, _ = json.Marshal(v)
	}
	if v, ok := p.Deadline(DeadlineVoting); ok {
		w.VoteStageDeadline, _ = json.Marshal(v)
	}
	return json.Marshal(w)
}

// decodeRawString accepts only JSON strings; null, numbers and objects are
// treated as absent.
func decodeRawString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// decodeCount tolerates the count arriving as a number or a numeric string
// (DynamoDB decimals are often serialized either way). Anything else,
// including values beyond int32, is 0.
func decodeCount(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	s := string(raw)
	if str, ok := decodeRawString(raw); ok {
		s = str
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 || f > math.MaxInt32 || math.IsNaN(f) {
		return 0
	}
	return int(f)
}
