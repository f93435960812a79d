package escrow

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists escrow data in PostgreSQL.
//
// The party indices of the in-memory store become partial indexes on the
// escrows table; cancelled rows stay as tombstones and are excluded from
// the list queries.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO escrows (
			contract_addr, token_id, seller_addr, buyer_addr,
			price, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(30,6), $6, $7, $8)
		RETURNING id`,
		e.Asset.Contract, e.Asset.TokenID, e.Seller, e.Buyer,
		e.Price, string(e.Status), e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID)
}

const escrowColumns = `id, contract_addr, token_id, seller_addr, buyer_addr,
		       price, status, COALESCE(fee::TEXT, ''), created_at, updated_at, resolved_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(row scanner) (*Escrow, error) {
	e := &Escrow{}
	var status string
	var resolvedAt sql.NullTime

	err := row.Scan(
		&e.ID, &e.Asset.Contract, &e.Asset.TokenID, &e.Seller, &e.Buyer,
		&e.Price, &status, &e.Fee, &e.CreatedAt, &e.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}
	return e, nil
}

func (p *PostgresStore) Get(ctx context.Context, id uint64) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

// finalize transitions a pending row to a terminal status. The status
// predicate makes the transition atomic: a row that is no longer pending
// is left untouched.
func (p *PostgresStore) finalize(ctx context.Context, id uint64, to Status, fee sql.NullString, at time.Time) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE escrows SET
			status = $2, fee = $3::NUMERIC(30,6), resolved_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING `+escrowColumns,
		id, string(to), fee, at,
	)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		// Distinguish missing from already finalized
		if _, getErr := p.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyFinalized
	}
	return e, err
}

func (p *PostgresStore) MarkCompleted(ctx context.Context, id uint64, fee string, at time.Time) (*Escrow, error) {
	return p.finalize(ctx, id, StatusCompleted, sql.NullString{String: fee, Valid: true}, at)
}

func (p *PostgresStore) Cancel(ctx context.Context, id uint64, at time.Time) (*Escrow, error) {
	return p.finalize(ctx, id, StatusCancelled, sql.NullString{}, at)
}

func (p *PostgresStore) listBy(ctx context.Context, column, party string) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE `+column+` = $1 AND status != 'cancelled'
		ORDER BY id`, party)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListBySeller(ctx context.Context, seller string) ([]*Escrow, error) {
	return p.listBy(ctx, "seller_addr", seller)
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyer string) ([]*Escrow, error) {
	return p.listBy(ctx, "buyer_addr", buyer)
}
