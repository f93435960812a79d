// Package fees holds the platform fee policy applied to completed sales.
package fees

import (
	"errors"
	"math/big"
	"sync"

	"github.com/consignio/consign/internal/coin"
)

// ErrInvalidFeePercentage is returned when a percentage above 100 is set.
var ErrInvalidFeePercentage = errors.New("fees: percentage must be between 0 and 100")

var hundred = big.NewInt(100)

// Quote is the fee breakdown for one sale price.
type Quote struct {
	Price *big.Int // What the buyer pays
	Fee   *big.Int // floor(wholeCoins(price) * percentage / 100) coins, kept by the platform
	Net   *big.Int // Price minus Fee, paid to the seller
}

// Policy is the current fee configuration. Percentage changes apply to
// settlements that happen after the change; escrows already settled are
// untouched.
type Policy struct {
	mu         sync.RWMutex
	percentage uint64
	recipient  string
}

// NewPolicy creates a fee policy. Percentage must be 0-100.
func NewPolicy(percentage uint64, recipient string) (*Policy, error) {
	if percentage > 100 {
		return nil, ErrInvalidFeePercentage
	}
	return &Policy{percentage: percentage, recipient: recipient}, nil
}

// Quote computes the split for a sale price under the current policy.
// The percentage applies to whole coins only: the price is floored to
// coin.Unit multiples before the cut, so a 2-coin sale at 5% carries no
// fee (floor(2*5/100) = 0 coins) and sub-coin remainders are never
// charged. The fee rounds down, so Fee + Net always equals Price exactly.
func (p *Policy) Quote(price *big.Int) Quote {
	p.mu.RLock()
	pct := p.percentage
	p.mu.RUnlock()

	fee := new(big.Int).Div(price, coin.Unit)
	fee.Mul(fee, new(big.Int).SetUint64(pct))
	fee.Div(fee, hundred)
	fee.Mul(fee, coin.Unit)
	net := new(big.Int).Sub(price, fee)

	return Quote{
		Price: new(big.Int).Set(price),
		Fee:   fee,
		Net:   net,
	}
}

// Percentage returns the current fee percentage.
func (p *Policy) Percentage() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.percentage
}

// Recipient returns the address fees are settled to.
func (p *Policy) Recipient() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recipient
}

// SetPercentage updates the fee percentage. Values above 100 are rejected
// and the previous value stays in force.
func (p *Policy) SetPercentage(percentage uint64) error {
	if percentage > 100 {
		return ErrInvalidFeePercentage
	}
	p.mu.Lock()
	p.percentage = percentage
	p.mu.Unlock()
	return nil
}

// SetRecipient updates the fee recipient address.
func (p *Policy) SetRecipient(recipient string) {
	p.mu.Lock()
	p.recipient = recipient
	p.mu.Unlock()
}
