package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChangeKind identifies what a provider change event affected.
type ChangeKind string

const (
	AccountsChanged ChangeKind = "accountsChanged"
	ChainChanged    ChangeKind = "chainChanged"
)

// ChangeEvent is emitted by a provider when the active account or chain
// changes out from under the session.
type ChangeEvent struct {
	Kind     ChangeKind
	Accounts []common.Address
	ChainID  *big.Int
}

// Provider is the wallet capability surface the session depends on.
// Concrete variants replace duck-typed inspection of injected globals:
// a provider is resolved once at connect time into one of these.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	Events() <-chan ChangeEvent
}

var (
	ErrNoAccounts         = errors.New("wallet: provider has no accounts")
	ErrNoUsableProvider   = errors.New("wallet: no usable provider found")
	ErrChainNotSupported  = errors.New("wallet: provider cannot switch to requested chain")
	ErrSessionClosed      = errors.New("wallet: session is closed")
	ErrSessionInvalidated = errors.New("wallet: session invalidated by account or chain change")
)

// KeyProvider is the single-provider variant: one secp256k1 key on one
// chain. It is what a gateway deployment configures.
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	events  chan ChangeEvent
}

// NewKeyProvider creates a provider from a hex-encoded private key.
func NewKeyProvider(hexKey string, chainID *big.Int) (*KeyProvider, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %v", err)
	}

	return &KeyProvider{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		events:  make(chan ChangeEvent, 4),
	}, nil
}

func (p *KeyProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.address}, nil
}

func (p *KeyProvider) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(p.chainID), nil
}

// SwitchChain retargets the provider. A key signs on any chain, so the
// switch always succeeds and emits a chain change event.
func (p *KeyProvider) SwitchChain(ctx context.Context, chainID *big.Int) error {
	p.chainID = new(big.Int).Set(chainID)
	p.emit(ChangeEvent{Kind: ChainChanged, ChainID: new(big.Int).Set(chainID)})
	return nil
}

func (p *KeyProvider) Events() <-chan ChangeEvent {
	return p.events
}

// Key returns the signing key for transactor construction.
func (p *KeyProvider) Key() *ecdsa.PrivateKey {
	return p.key
}

// EmitAccountsChanged simulates the wallet swapping accounts. Used by
// tests and local tooling to exercise session teardown.
func (p *KeyProvider) EmitAccountsChanged(accounts []common.Address) {
	p.emit(ChangeEvent{Kind: AccountsChanged, Accounts: accounts})
}

func (p *KeyProvider) emit(ev ChangeEvent) {
	select {
	case p.events <- ev:
	default:
	}
}

// ResolveProvider picks the first provider in the list that can serve
// accounts, the multi-provider variant of connect-time resolution.
func ResolveProvider(ctx context.Context, candidates []Provider) (Provider, error) {
	for _, candidate := range candidates {
		accounts, err := candidate.RequestAccounts(ctx)
		if err != nil || len(accounts) == 0 {
			continue
		}
		return candidate, nil
	}
	return nil, ErrNoUsableProvider
}
