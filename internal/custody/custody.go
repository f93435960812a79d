// Package custody tracks which address holds each unique asset and moves
// assets between addresses. Two adapters exist: an in-process registry used
// by the service's own vault bookkeeping, and an on-chain ERC-721 adapter.
package custody

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAssetNotFound = errors.New("custody: asset not found")
	ErrNotHolder     = errors.New("custody: address does not hold asset")
	ErrAssetExists   = errors.New("custody: asset already registered")
)

// AssetRef identifies a unique asset by its contract and token id.
type AssetRef struct {
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId"`
}

func (r AssetRef) String() string {
	return fmt.Sprintf("%s/%s", r.Contract, r.TokenID)
}

// Asset is a registered asset together with its current holder.
type Asset struct {
	Ref   AssetRef `json:"ref"`
	Owner string   `json:"owner"`
}

// Adapter is the custody surface the escrow engine depends on.
type Adapter interface {
	// OwnerOf returns the current holder of the asset, or ErrAssetNotFound.
	OwnerOf(ctx context.Context, ref AssetRef) (string, error)

	// Transfer moves the asset from one holder to another. It fails with
	// ErrNotHolder when from is not the current holder, so a concurrent
	// transfer of the same asset cannot race past the ownership check.
	Transfer(ctx context.Context, ref AssetRef, from, to string) error
}
