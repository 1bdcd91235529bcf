package bank

import (
	"errors"
	"fmt"
	"sync"

	"github.com/meridianfi/reallocator/internal/types"
)

var ErrInsufficientFunds = errors.New("insufficient token balance")

// TokenBank is the token-transfer primitive the engine consumes. The engine
// holds the position-derived signing authority for vault-outbound transfers;
// authorization itself is the host's concern, so the interface only moves
// balances.
type TokenBank interface {
	Transfer(mint, from, to types.Address, amount uint64) error
	CloseAccount(mint, account, destination types.Address) error
}

// MemoryBank is an in-memory token ledger used in simulation mode and tests.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[types.Address]map[types.Address]uint64 // mint -> account -> amount
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[types.Address]map[types.Address]uint64)}
}

// Mint credits freshly created tokens to an account. Test and simulation
// setup only.
func (b *MemoryBank) Mint(mint, account types.Address, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts(mint)[account] += amount
}

// Balance returns the current balance of account for mint.
func (b *MemoryBank) Balance(mint, account types.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts(mint)[account]
}

func (b *MemoryBank) Transfer(mint, from, to types.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	accounts := b.accounts(mint)
	if accounts[from] < amount {
		return fmt.Errorf("%w: account %s has %d, needs %d", ErrInsufficientFunds, from, accounts[from], amount)
	}
	accounts[from] -= amount
	accounts[to] += amount
	return nil
}

func (b *MemoryBank) CloseAccount(mint, account, destination types.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	accounts := b.accounts(mint)
	if remaining := accounts[account]; remaining > 0 {
		accounts[destination] += remaining
	}
	delete(accounts, account)
	return nil
}

func (b *MemoryBank) accounts(mint types.Address) map[types.Address]uint64 {
	accounts, ok := b.balances[mint]
	if !ok {
		accounts = make(map[types.Address]uint64)
		b.balances[mint] = accounts
	}
	return accounts
}
