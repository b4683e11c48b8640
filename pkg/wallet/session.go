package wallet

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Session is the explicit wallet lifecycle: constructed on connect,
// holding the resolved account, chain and transactor, torn down on
// disconnect or when the provider reports an account/chain change.
type Session struct {
	provider Provider
	account  common.Address
	chainID  *big.Int
	opts     *bind.TransactOpts

	mu          sync.Mutex
	closed      bool
	invalidated bool
	cancelWatch context.CancelFunc
	onReset     []func()
}

// Connect resolves the provider into a live session. If chainID is
// non-nil and differs from the provider's current chain, the provider is
// asked to switch before the session is established.
func Connect(ctx context.Context, provider Provider, chainID *big.Int) (*Session, error) {
	accounts, err := provider.RequestAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to request accounts: %v", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	current, err := provider.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %v", err)
	}

	if chainID != nil && current.Cmp(chainID) != 0 {
		if err := provider.SwitchChain(ctx, chainID); err != nil {
			return nil, ErrChainNotSupported
		}
		current = new(big.Int).Set(chainID)
	}

	session := &Session{
		provider: provider,
		account:  accounts[0],
		chainID:  current,
	}

	if keyed, ok := provider.(*KeyProvider); ok {
		opts, err := bind.NewKeyedTransactorWithChainID(keyed.Key(), current)
		if err != nil {
			return nil, fmt.Errorf("failed to build transactor: %v", err)
		}
		session.opts = opts
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	session.cancelWatch = cancel
	go session.watchChanges(watchCtx)

	return session, nil
}

// Account returns the session's resolved address.
func (s *Session) Account() common.Address {
	return s.account
}

// ChainID returns the chain the session was established on.
func (s *Session) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// TransactOpts returns signing options for state-changing calls, or an
// error once the session is closed or invalidated.
func (s *Session) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.invalidated {
		return nil, ErrSessionInvalidated
	}
	if s.opts == nil {
		return nil, fmt.Errorf("wallet: provider cannot sign transactions")
	}

	opts := *s.opts
	opts.Context = ctx
	return &opts, nil
}

// OnReset registers a callback fired when the session is invalidated by
// an account or chain change. The gateway hooks cache invalidation here.
func (s *Session) OnReset(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReset = append(s.onReset, fn)
}

// Valid reports whether the session can still sign.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.invalidated
}

// Close tears the session down.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelWatch()
}

func (s *Session) watchChanges(ctx context.Context) {
	events := s.provider.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleChange(ev)
		}
	}
}

func (s *Session) handleChange(ev ChangeEvent) {
	s.mu.Lock()

	switch ev.Kind {
	case AccountsChanged:
		// The same account re-announced is not a change.
		if len(ev.Accounts) == 1 && ev.Accounts[0] == s.account {
			s.mu.Unlock()
			return
		}
	case ChainChanged:
		if ev.ChainID != nil && ev.ChainID.Cmp(s.chainID) == 0 {
			s.mu.Unlock()
			return
		}
	}

	if s.invalidated || s.closed {
		s.mu.Unlock()
		return
	}
	s.invalidated = true
	callbacks := make([]func(), len(s.onReset))
	copy(callbacks, s.onReset)
	s.mu.Unlock()

	log.Printf("Wallet session invalidated: %s", ev.Kind)
	for _, fn := range callbacks {
		fn()
	}
}
