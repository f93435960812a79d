package custody

import (
	"context"
	"database/sql"
)

// PostgresStore persists asset ownership in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed custody store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetOwner(ctx context.Context, ref AssetRef) (string, error) {
	var owner string
	err := p.db.QueryRowContext(ctx, `
		SELECT owner_addr FROM custody_assets
		WHERE contract_addr = $1 AND token_id = $2`,
		ref.Contract, ref.TokenID,
	).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", ErrAssetNotFound
	}
	return owner, err
}

func (p *PostgresStore) Register(ctx context.Context, ref AssetRef, owner string) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO custody_assets (contract_addr, token_id, owner_addr)
		VALUES ($1, $2, $3)
		ON CONFLICT (contract_addr, token_id) DO NOTHING`,
		ref.Contract, ref.TokenID, owner,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAssetExists
	}
	return nil
}

func (p *PostgresStore) TransferOwner(ctx context.Context, ref AssetRef, from, to string) error {
	// The owner predicate makes the check-and-set a single atomic statement.
	result, err := p.db.ExecContext(ctx, `
		UPDATE custody_assets SET owner_addr = $1, updated_at = NOW()
		WHERE contract_addr = $2 AND token_id = $3 AND owner_addr = $4`,
		to, ref.Contract, ref.TokenID, from,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := p.GetOwner(ctx, ref); err != nil {
			return err
		}
		return ErrNotHolder
	}
	return nil
}

func (p *PostgresStore) ListByOwner(ctx context.Context, owner string) ([]Asset, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT contract_addr, token_id, owner_addr FROM custody_assets
		WHERE owner_addr = $1
		ORDER BY contract_addr, token_id`,
		owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.Ref.Contract, &a.Ref.TokenID, &a.Owner); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
