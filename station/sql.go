package station

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository persists station snapshots as one JSONB document per station.
// Durability and mutation/save atomicity are the caller's concern; the
// repository just writes whatever snapshot it is handed.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Save(ctx context.Context, snap Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, saveSnapshot, snap.ID, doc)
	return err
}

const saveSnapshot = `
INSERT INTO stations (id, snapshot, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()
`

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	var doc []byte
	err := r.db.GetContext(ctx, &doc, getSnapshot, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	err = json.Unmarshal(doc, &snap)
	return snap, err
}

const getSnapshot = `SELECT snapshot FROM stations WHERE id = $1`

func (r *Repository) GetAll(ctx context.Context) ([]Snapshot, error) {
	var docs [][]byte
	if err := r.db.SelectContext(ctx, &docs, getSnapshots); err != nil {
		return nil, err
	}

	snaps := make([]Snapshot, 0, len(docs))
	for _, doc := range docs {
		var snap Snapshot
		if err := json.Unmarshal(doc, &snap); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

const getSnapshots = `SELECT snapshot FROM stations ORDER BY id`
