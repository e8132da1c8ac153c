package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BotRow mirrors one row of the bots table.
type BotRow struct {
	ID        uuid.UUID
	Name      string
	Archetype string
	ClassType int16
	Level     int16
	MapID     int16
	X         int32
	Y         int32
}

// BotRepo is the narrow load/save surface the control plane reaches the
// store through. Admission never issues any other query shape.
type BotRepo struct {
	db *DB
}

func NewBotRepo(db *DB) *BotRepo {
	return &BotRepo{db: db}
}

// LoadBot reads one bot record. Returns (nil, nil) when the bot is unknown
// or retired — admission treats that as "create fresh".
func (r *BotRepo) LoadBot(ctx context.Context, id uuid.UUID) (*BotRow, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT id, name, archetype, class_type, level, map_id, x, y
		   FROM bots WHERE id = $1 AND retired_at IS NULL`, id)
	var b BotRow
	err := row.Scan(&b.ID, &b.Name, &b.Archetype, &b.ClassType, &b.Level, &b.MapID, &b.X, &b.Y)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bot %s: %w", id, err)
	}
	return &b, nil
}

// SaveBot upserts a bot record.
func (r *BotRepo) SaveBot(ctx context.Context, b *BotRow) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO bots (id, name, archetype, class_type, level, map_id, x, y)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   level = EXCLUDED.level, map_id = EXCLUDED.map_id,
		   x = EXCLUDED.x, y = EXCLUDED.y, updated_at = now()`,
		b.ID, b.Name, b.Archetype, b.ClassType, b.Level, b.MapID, b.X, b.Y)
	if err != nil {
		return fmt.Errorf("save bot %s: %w", b.ID, err)
	}
	return nil
}

// RetireBot soft-deletes a bot record after teardown.
func (r *BotRepo) RetireBot(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE bots SET retired_at = now() WHERE id = $1 AND retired_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("retire bot %s: %w", id, err)
	}
	return nil
}

// CountActive returns the number of non-retired bot records.
func (r *BotRepo) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM bots WHERE retired_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bots: %w", err)
	}
	return n, nil
}
