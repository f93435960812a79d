package reputation

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// PostgresSnapshotStore implements SnapshotStore backed by PostgreSQL.
type PostgresSnapshotStore struct {
	db *sql.DB
}

var _ SnapshotStore = (*PostgresSnapshotStore)(nil)

// NewPostgresSnapshotStore creates a PostgreSQL-backed snapshot store.
func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

func (p *PostgresSnapshotStore) SaveBatch(ctx context.Context, snaps []*Snapshot) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reputation_snapshots (address, points, rank)
		VALUES ($1, $2, $3)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, s := range snaps {
		if _, err := stmt.ExecContext(ctx, strings.ToLower(s.Address), s.Points, s.Rank); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgresSnapshotStore) Query(ctx context.Context, q HistoryQuery) ([]*Snapshot, error) {
	query := `
		SELECT id, address, points, rank, created_at
		FROM reputation_snapshots
		WHERE address = $1`

	args := []interface{}{strings.ToLower(q.Address)}
	argIdx := 2

	if !q.From.IsZero() {
		query += " AND created_at >= $" + strconv.Itoa(argIdx)
		args = append(args, q.From)
		argIdx++
	}
	if !q.To.IsZero() {
		query += " AND created_at <= $" + strconv.Itoa(argIdx)
		args = append(args, q.To)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT $" + strconv.Itoa(argIdx)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var snaps []*Snapshot
	for rows.Next() {
		s := &Snapshot{}
		if err := rows.Scan(&s.ID, &s.Address, &s.Points, &s.Rank, &s.CreatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// LatestBatch returns the newest snapshot batch. Rows written by one
// SaveBatch share a created_at (now() is fixed per transaction), so the
// batch is everything stamped with the maximum created_at.
func (p *PostgresSnapshotStore) LatestBatch(ctx context.Context) ([]*Snapshot, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, address, points, rank, created_at
		FROM reputation_snapshots
		WHERE created_at = (SELECT MAX(created_at) FROM reputation_snapshots)
		ORDER BY rank`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var snaps []*Snapshot
	for rows.Next() {
		s := &Snapshot{}
		if err := rows.Scan(&s.ID, &s.Address, &s.Points, &s.Rank, &s.CreatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

func (p *PostgresSnapshotStore) Latest(ctx context.Context, address string) (*Snapshot, error) {
	s := &Snapshot{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, address, points, rank, created_at
		FROM reputation_snapshots
		WHERE address = $1
		ORDER BY created_at DESC
		LIMIT 1`, strings.ToLower(address),
	).Scan(&s.ID, &s.Address, &s.Points, &s.Rank, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
