package wallet

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known anvil/hardhat dev key, safe to embed.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestKeyProviderResolvesAccount(t *testing.T) {
	ctx := context.Background()

	provider, err := NewKeyProvider(testKeyHex, big.NewInt(31337))
	require.NoError(t, err)

	accounts, err := provider.RequestAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), accounts[0])

	chainID, err := provider.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(31337), chainID)
}

func TestNewKeyProviderRejectsBadKey(t *testing.T) {
	_, err := NewKeyProvider("not-hex", big.NewInt(1))
	assert.Error(t, err)
}

func TestConnectEstablishesSigningSession(t *testing.T) {
	ctx := context.Background()

	provider, err := NewKeyProvider(testKeyHex, big.NewInt(31337))
	require.NoError(t, err)

	session, err := Connect(ctx, provider, nil)
	require.NoError(t, err)
	defer session.Close()

	assert.True(t, session.Valid())
	assert.Equal(t, big.NewInt(31337), session.ChainID())

	opts, err := session.TransactOpts(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.Account(), opts.From)
}

func TestConnectSwitchesChain(t *testing.T) {
	ctx := context.Background()

	provider, err := NewKeyProvider(testKeyHex, big.NewInt(1))
	require.NoError(t, err)

	session, err := Connect(ctx, provider, big.NewInt(11155111))
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, big.NewInt(11155111), session.ChainID())
}

func TestAccountChangeInvalidatesSession(t *testing.T) {
	ctx := context.Background()

	provider, err := NewKeyProvider(testKeyHex, big.NewInt(31337))
	require.NoError(t, err)

	session, err := Connect(ctx, provider, nil)
	require.NoError(t, err)
	defer session.Close()

	reset := make(chan struct{}, 1)
	session.OnReset(func() { reset <- struct{}{} })

	provider.EmitAccountsChanged([]common.Address{common.HexToAddress("0x9999999999999999999999999999999999999999")})

	select {
	case <-reset:
	case <-time.After(2 * time.Second):
		t.Fatal("expected reset callback after account change")
	}

	assert.False(t, session.Valid())
	_, err = session.TransactOpts(ctx)
	assert.ErrorIs(t, err, ErrSessionInvalidated)
}

func TestSameAccountReannounceKeepsSession(t *testing.T) {
	ctx := context.Background()

	provider, err := NewKeyProvider(testKeyHex, big.NewInt(31337))
	require.NoError(t, err)

	session, err := Connect(ctx, provider, nil)
	require.NoError(t, err)
	defer session.Close()

	provider.EmitAccountsChanged([]common.Address{session.Account()})
	time.Sleep(50 * time.Millisecond)

	assert.True(t, session.Valid())
}

func TestClosedSessionRefusesToSign(t *testing.T) {
	ctx := context.Background()

	provider, err := NewKeyProvider(testKeyHex, big.NewInt(31337))
	require.NoError(t, err)

	session, err := Connect(ctx, provider, nil)
	require.NoError(t, err)
	session.Close()

	_, err = session.TransactOpts(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

type deadProvider struct{}

func (deadProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return nil, nil
}

func (deadProvider) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (deadProvider) SwitchChain(ctx context.Context, chainID *big.Int) error { return nil }

func (deadProvider) Events() <-chan ChangeEvent { return nil }

func TestResolveProviderSkipsUnusable(t *testing.T) {
	ctx := context.Background()

	usable, err := NewKeyProvider(testKeyHex, big.NewInt(1))
	require.NoError(t, err)

	resolved, err := ResolveProvider(ctx, []Provider{deadProvider{}, usable})
	require.NoError(t, err)
	assert.Equal(t, Provider(usable), resolved)

	_, err = ResolveProvider(ctx, []Provider{deadProvider{}})
	assert.ErrorIs(t, err, ErrNoUsableProvider)
}
