package services

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/taskfi-labs/agent-escrow/pkg/escrow"
)

// MemoryAllowance adapts the in-process ledger for the allowance read
// path. The memory ledger has no approval step, so the spendable
// allowance is simply the owner's balance.
type MemoryAllowance struct {
	Ledger *escrow.MemoryLedger
}

func (m MemoryAllowance) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return m.Ledger.BalanceOf(owner, token), nil
}
