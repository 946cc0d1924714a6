// Package stage derives the status of a panel's question stages from its
// deadlines and an explicit current time.
//
// Stages are independent windows: each one is open until its own deadline and
// closed after it, regardless of the others. The package holds no state and is
// safe for concurrent use.
package stage

import (
	"errors"
	"fmt"
	"time"

	"example.com/panelstages/internal/domain"
)

// Status of a single stage at a point in time.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
)

// Definition is one entry of the fixed stage sequence.
type Definition struct {
	Key           string
	Title         string
	DeadlineField string
}

var definitions = []Definition{
	{Key: "question", Title: "Submit Questions", DeadlineField: domain.DeadlineQuestion},
	{Key: "tagging", Title: "Tag Questions", DeadlineField: domain.DeadlineTagging},
	{Key: "voting", Title: "Vote Questions", DeadlineField: domain.DeadlineVoting},
}

// Definitions returns a copy of the stage sequence in order.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Lookup returns the definition for key.
func Lookup(key string) (Definition, bool) {
	for _, d := range definitions {
		if d.Key == key {
			return d, true
		}
	}
	return Definition{}, false
}

// StageStatus is the derived view of one stage. Deadline is nil when the
// panel has no usable deadline for the stage.
type StageStatus struct {
	Key      string     `json:"key"`
	Title    string     `json:"title"`
	Status   Status     `json:"status"`
	Deadline *time.Time `json:"deadline"`
}

// ErrUnknownStage is matched by every *UnknownStageError.
var ErrUnknownStage = errors.New("unknown stage")

// UnknownStageError reports a stage key that is not part of the definition.
// It signals a caller bug, not bad panel data.
type UnknownStageError struct {
	Key string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage %q", e.Key)
}

func (e *UnknownStageError) Is(target error) bool { return target == ErrUnknownStage }

// DeriveStages returns one entry per defined stage, in definition order.
// A missing or malformed deadline yields StatusUnknown for that stage only.
// A stage is still open at the exact deadline instant.
func DeriveStages(p domain.Panel, now time.Time) []StageStatus {
	out := make([]StageStatus, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, derive(p, d, now))
	}
	return out
}

// StatusOf derives the status of a single stage.
func StatusOf(p domain.Panel, stageKey string, now time.Time) (StageStatus, error) {
	d, ok := Lookup(stageKey)
	if !ok {
		return StageStatus{}, &UnknownStageError{Key: stageKey}
	}
	return derive(p, d, now), nil
}

// CanNavigate reports whether stageKey is currently open for p.
func CanNavigate(p domain.Panel, stageKey string, now time.Time) (bool, error) {
	s, err := StatusOf(p, stageKey, now)
	if err != nil {
		return false, err
	}
	return s.Status == StatusOpen, nil
}

// Current returns the first open stage, if any.
func Current(stages []StageStatus) (StageStatus, bool) {
	for _, s := range stages {
		if s.Status == StatusOpen {
			return s, true
		}
	}
	return StageStatus{}, false
}

func derive(p domain.Panel, d Definition, now time.Time) StageStatus {
	s := StageStatus{Key: d.Key, Title: d.Title, Status: StatusUnknown}
	raw, ok := p.Deadline(d.DeadlineField)
	if !ok {
		return s
	}
	deadline, ok := domain.ParseTimestamp(raw)
	if !ok {
		return s
	}
	s.Deadline = &deadline
	if now.After(deadline) {
		s.Status = StatusClosed
	} else {
		s.Status = StatusOpen
	}
	return s
}
