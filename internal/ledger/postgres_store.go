package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	"github.com/consignio/consign/internal/coin"
	"github.com/consignio/consign/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetBalance retrieves a participant's balance
func (p *PostgresStore) GetBalance(ctx context.Context, address string) (*Balance, error) {
	bal := &Balance{Address: address}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, total_in, total_out, updated_at
		FROM balances WHERE address = $1
	`, address).Scan(&bal.Available, &bal.TotalIn, &bal.TotalOut, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Balance{
			Address:   address,
			Available: "0",
			TotalIn:   "0",
			TotalOut:  "0",
			UpdatedAt: time.Now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Credit adds funds to a participant's balance
func (p *PostgresStore) Credit(ctx context.Context, address, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := creditTx(ctx, tx, address, amount, reference, description, "deposit"); err != nil {
		return err
	}
	return tx.Commit()
}

// isCheckViolation reports whether err is a PostgreSQL check_violation
// (SQLSTATE 23514). Only this class maps to ErrInsufficientBalance; other
// failures on the debit are infrastructure errors and surface as such.
func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}

func creditTx(ctx context.Context, tx *sql.Tx, address, amount, reference, description, entryType string) error {
	// Upsert balance using native NUMERIC arithmetic
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (address, available, total_in, updated_at)
		VALUES ($1, $2::NUMERIC(30,6), $2::NUMERIC(30,6), NOW())
		ON CONFLICT (address) DO UPDATE SET
			available  = balances.available + $2::NUMERIC(30,6),
			total_in   = balances.total_in  + $2::NUMERIC(30,6),
			updated_at = NOW()
	`, address, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, address, type, amount, reference, description, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(30,6), $5, $6, NOW())
	`, idgen.WithPrefix("entry_"), address, entryType, amount, reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

// Settle applies a sale settlement in one transaction. The CHECK constraint
// on available >= 0 rejects the debit when the buyer cannot cover the price.
func (p *PostgresStore) Settle(ctx context.Context, s Settlement) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	price := coin.Format(s.Price)
	result, err := tx.ExecContext(ctx, `
		UPDATE balances SET
			available  = available - $2::NUMERIC(30,6),
			total_out  = total_out + $2::NUMERIC(30,6),
			updated_at = NOW()
		WHERE address = $1
	`, s.Buyer, price)
	if isCheckViolation(err) {
		return ErrInsufficientBalance
	}
	if err != nil {
		return fmt.Errorf("failed to debit buyer: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, address, type, amount, reference, description, created_at)
		VALUES ($1, $2, 'sale_payment', $3::NUMERIC(30,6), $4, 'escrow settlement', NOW())
	`, idgen.WithPrefix("entry_"), s.Buyer, price, s.Reference)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}

	net := new(big.Int).Sub(s.Price, s.Fee)
	if err := creditTx(ctx, tx, s.Seller, coin.Format(net), s.Reference, "escrow settlement", "sale_proceeds"); err != nil {
		return err
	}
	if s.Fee.Sign() > 0 {
		if err := creditTx(ctx, tx, s.FeeRecipient, coin.Format(s.Fee), s.Reference, "escrow settlement", "fee"); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetHistory returns journal entries for a participant, newest first
func (p *PostgresStore) GetHistory(ctx context.Context, address string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, address, type, amount, COALESCE(reference, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.Address, &e.Type, &e.Amount, &e.Reference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
