package domain

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FieldError represents a single field's validation error.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"message"`
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Msg) }

// KnownDeadlineKeys lists the deadline keys a panel may carry.
var KnownDeadlineKeys = []string{DeadlineQuestion, DeadlineTagging, DeadlineVoting}

// ValidatePanel performs strict checks on a panel submitted through the API.
// Panels read from upstream are not validated; the stage engine tolerates them as-is.
func ValidatePanel(p *Panel) []FieldError {
	var errs []FieldError

	if len(p.ID) > MaxPanelIDLen {
		errs = append(errs, FieldError{"PanelID", fmt.Sprintf("max length %d", MaxPanelIDLen)})
	}

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, FieldError{"PanelName", "required"})
	} else if len(p.Name) > MaxPanelNameLen {
		errs = append(errs, FieldError{"PanelName", fmt.Sprintf("max length %d", MaxPanelNameLen)})
	}

	if len(p.Description) > MaxDescriptionLen {
		errs = append(errs, FieldError{"PanelDesc", fmt.Sprintf("max length %d", MaxDescriptionLen)})
	}
	if len(p.PanelistName) > MaxPanelistNameLen {
		errs = append(errs, FieldError{"Panelist", fmt.Sprintf("max length %d", MaxPanelistNameLen)})
	}

	if p.VideoLink != "" {
		if len(p.VideoLink) > MaxVideoLinkLen {
			errs = append(errs, FieldError{"PanelVideoLink", fmt.Sprintf("max length %d", MaxVideoLinkLen)})
		} else if u, err := url.Parse(p.VideoLink); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{"PanelVideoLink", "must be an absolute URL"})
		}
	}

	if p.PresentationTime != "" {
		if _, ok := ParseTimestamp(p.PresentationTime); !ok {
			errs = append(errs, FieldError{"PanelPresentationDate", "must be an ISO-8601 timestamp"})
		}
	}

	if p.QuestionCount < 0 {
		errs = append(errs, FieldError{"NumberOfQuestions", "must be non-negative"})
	}

	// Deadlines may be absent; present ones must parse.
	keys := make([]string, 0, len(p.StageDeadlines))
	for k := range p.StageDeadlines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !isKnownDeadlineKey(k) {
			errs = append(errs, FieldError{"deadlines." + k, "unknown stage"})
			continue
		}
		if v, ok := p.Deadline(k); ok {
			if _, ok := ParseTimestamp(v); !ok {
				errs = append(errs, FieldError{wireDeadlineField(k), "must be an ISO-8601 timestamp"})
			}
		}
	}

	return errs
}

// ValidateBatch enforces a count cap and per-item validation.
func ValidateBatch(panels []*Panel, maxItems int) (allErrs [][]FieldError, topErr error) {
	if len(panels) == 0 {
		return nil, errors.New("panels: required and must contain at least one item")
	}
	if len(panels) > maxItems {
		return nil, fmt.Errorf("panels: max %d items", maxItems)
	}
	allErrs = make([][]FieldError, len(panels))
	var failed bool
	for i := range panels {
		fe := ValidatePanel(panels[i])
		if len(fe) > 0 {
			allErrs[i] = fe
			failed = true
		}
	}
	if failed {
		return allErrs, fmt.Errorf("one or more panels failed validation")
	}
	return nil, nil
}

func isKnownDeadlineKey(k string) bool {
	for _, known := range KnownDeadlineKeys {
		if k == known {
			return true
		}
	}
	return false
}

func wireDeadlineField(k string) string {
	switch k {
	case DeadlineQuestion:
		return "QuestionStageDeadline"
	case DeadlineTagging:
		return "TagStageDeadline"
	case DeadlineVoting:
		return "VoteStageDeadline"
	default:
		return k
	}
}
