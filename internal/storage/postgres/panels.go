package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/panelstages/internal/domain"
)

// ErrNotFound is returned when a panel id has no row.
var ErrNotFound = errors.New("panel not found")

const selectPanel = `SELECT id, name, description, panelist, video_link, presentation_time,
  question_count, deadlines, fingerprint FROM panels`

// StoredPanel is a cached panel plus its content fingerprint.
type StoredPanel struct {
	Panel       domain.Panel
	Fingerprint string
}

func (db *DB) GetPanel(ctx context.Context, id string) (StoredPanel, error) {
	row := db.Pool.QueryRow(ctx, selectPanel+" WHERE id=$1", id)
	sp, err := scanPanel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredPanel{}, ErrNotFound
	}
	if err != nil {
		return StoredPanel{}, fmt.Errorf("get panel %s: %w", id, err)
	}
	return sp, nil
}

// ListPanels returns up to limit panels ordered by id, starting after the
// given id (empty for the first page).
func (db *DB) ListPanels(ctx context.Context, after string, limit int) ([]StoredPanel, error) {
	rows, err := db.Pool.Query(ctx, selectPanel+" WHERE id > $1 ORDER BY id ASC LIMIT $2", after, limit)
	if err != nil {
		return nil, fmt.Errorf("list panels: %w", err)
	}
	defer rows.Close()

	var out []StoredPanel
	for rows.Next() {
		sp, err := scanPanel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan panel: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func scanPanel(row pgx.Row) (StoredPanel, error) {
	var (
		sp        StoredPanel
		deadlines []byte
	)
	p := &sp.Panel
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PanelistName, &p.VideoLink,
		&p.PresentationTime, &p.QuestionCount, &deadlines, &sp.Fingerprint); err != nil {
		return StoredPanel{}, err
	}
	p.StageDeadlines = map[string]string{}
	if len(deadlines) > 0 {
		if err := json.Unmarshal(deadlines, &p.StageDeadlines); err != nil {
			return StoredPanel{}, fmt.Errorf("decode deadlines: %w", err)
		}
	}
	return sp, nil
}
