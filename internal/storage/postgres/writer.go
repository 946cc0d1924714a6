package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"example.com/panelstages/internal/domain"
	"example.com/panelstages/internal/idempotency"
)

type Writer struct {
	db *DB
}

func NewWriter(db *DB) *Writer { return &Writer{db: db} }

var panelCols = []string{"id", "name", "description", "panelist", "video_link", "presentation_time", "question_count", "deadlines", "fingerprint"}

// UpsertBatch writes panels in one statement. Rows whose fingerprint is
// unchanged are left alone, so the returned count only includes inserted or
// changed panels. Duplicate ids within a batch keep the last occurrence.
func (w *Writer) UpsertBatch(ctx context.Context, items []domain.Panel) (int64, error) {
	sql, args, err := buildUpsert(dedupe(items))
	if err != nil {
		return 0, err
	}
	if sql == "" {
		return 0, nil
	}
	ct, err := w.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert panels: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ON CONFLICT cannot touch the same row twice in one statement.
func dedupe(items []domain.Panel) []domain.Panel {
	idx := make(map[string]int, len(items))
	out := make([]domain.Panel, 0, len(items))
	for _, p := range items {
		if i, ok := idx[p.ID]; ok {
			out[i] = p
			continue
		}
		idx[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}

func buildUpsert(items []domain.Panel) (string, []any, error) {
	if len(items) == 0 {
		return "", nil, nil
	}

	placeholders := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*len(panelCols))

	argi := 1
	for _, p := range items {
		if p.ID == "" {
			return "", nil, fmt.Errorf("upsert panels: panel %q has no id", p.Name)
		}
		deadlines := p.StageDeadlines
		if deadlines == nil {
			deadlines = map[string]string{}
		}
		b, err := json.Marshal(deadlines)
		if err != nil {
			return "", nil, fmt.Errorf("encode deadlines: %w", err)
		}

		args = append(args,
			p.ID,
			p.Name,
			p.Description,
			p.PanelistName,
			p.VideoLink,
			p.PresentationTime,
			p.QuestionCount,
			string(b),
			idempotency.Fingerprint(&p),
		)

		ph := make([]string, 0, len(panelCols))
		for i := range panelCols {
			if panelCols[i] == "deadlines" {
				ph = append(ph, fmt.Sprintf("$%d::jsonb", argi))
			} else {
				ph = append(ph, fmt.Sprintf("$%d", argi))
			}
			argi++
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	updates := make([]string, 0, len(panelCols))
	for _, c := range panelCols[1:] {
		updates = append(updates, c+"=EXCLUDED."+c)
	}
	updates = append(updates, "fetched_at=now()")

	sql := "INSERT INTO panels (" + strings.Join(panelCols, ",") + ") VALUES " +
		strings.Join(placeholders, ",") +
		" ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ",") +
		" WHERE panels.fingerprint IS DISTINCT FROM EXCLUDED.fingerprint"
	return sql, args, nil
}
