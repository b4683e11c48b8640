package services

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/taskfi-labs/agent-escrow/pkg/contract"
	"github.com/taskfi-labs/agent-escrow/pkg/escrow"
	"github.com/taskfi-labs/agent-escrow/pkg/wallet"
)

// ChainLedger implements escrow.Ledger on top of the deployed TaskEscrow
// contract. Writes are signed by the connected wallet session; the
// contract enforces authorization, this layer only refuses to sign for
// an address other than the session's.
type ChainLedger struct {
	client     *ethclient.Client
	session    *wallet.Session
	escrowAddr common.Address
	escrowABI  abi.ABI
	erc20ABI   abi.ABI
	bound      *bind.BoundContract
}

// NewChainLedger connects to the Ethereum node and verifies the escrow
// contract is deployed at the configured address.
func NewChainLedger(ctx context.Context, rpcURL string, escrowAddr common.Address, session *wallet.Session) (*ChainLedger, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum client: %v", err)
	}

	code, err := client.CodeAt(ctx, escrowAddr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get contract code: %v", err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("escrow contract not deployed at address %s", escrowAddr.Hex())
	}

	escrowABI, err := contract.TaskEscrowABI()
	if err != nil {
		return nil, err
	}
	erc20ABI, err := contract.ERC20ABI()
	if err != nil {
		return nil, err
	}

	ledger := &ChainLedger{
		client:     client,
		session:    session,
		escrowAddr: escrowAddr,
		escrowABI:  escrowABI,
		erc20ABI:   erc20ABI,
		bound:      bind.NewBoundContract(escrowAddr, escrowABI, client, client, client),
	}

	log.Printf("Escrow contract verified at address: %s", escrowAddr.Hex())
	return ledger, nil
}

// Client exposes the underlying RPC client for health checks.
func (cl *ChainLedger) Client() *ethclient.Client {
	return cl.client
}

// NextTaskID reads the total task count from the contract.
func (cl *ChainLedger) NextTaskID(ctx context.Context) (escrow.TaskID, error) {
	input, err := cl.escrowABI.Pack("nextTaskId")
	if err != nil {
		return 0, fmt.Errorf("failed to pack nextTaskId call: %v", err)
	}

	result, err := cl.client.CallContract(ctx, ethereum.CallMsg{
		To:   &cl.escrowAddr,
		Data: input,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call nextTaskId: %v", err)
	}

	var next *big.Int
	if err := cl.escrowABI.UnpackIntoInterface(&next, "nextTaskId", result); err != nil {
		return 0, fmt.Errorf("failed to unpack nextTaskId result: %v", err)
	}

	return escrow.TaskID(next.Uint64()), nil
}

// taskRecord mirrors the tasks(uint256) output tuple.
type taskRecord struct {
	Creator     common.Address
	Agent       common.Address
	Token       common.Address
	Amount      *big.Int
	Description string
	Status      uint8
	Result      string
	CreatedAt   *big.Int
}

// GetTask reads a single task record from the contract.
func (cl *ChainLedger) GetTask(ctx context.Context, id escrow.TaskID) (*escrow.Task, error) {
	input, err := cl.escrowABI.Pack("tasks", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return nil, fmt.Errorf("failed to pack tasks call: %v", err)
	}

	result, err := cl.client.CallContract(ctx, ethereum.CallMsg{
		To:   &cl.escrowAddr,
		Data: input,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call tasks: %v", err)
	}

	var record taskRecord
	if err := cl.escrowABI.UnpackIntoInterface(&record, "tasks", result); err != nil {
		return nil, fmt.Errorf("failed to unpack task record: %v", err)
	}

	// Unassigned slots come back as an all-zero record.
	if record.Creator == (common.Address{}) && (record.Amount == nil || record.Amount.Sign() == 0) {
		return nil, escrow.ErrTaskNotFound
	}

	return recordToTask(id, &record), nil
}

// CreateTask locks funds and opens a task. Token tasks run the standard
// pre-approval pattern first: allowance check, approve if short, then
// createTaskWithToken.
func (cl *ChainLedger) CreateTask(ctx context.Context, caller, agent, token common.Address, amount *big.Int, description string) (escrow.TaskID, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, escrow.ErrInvalidAmount
	}
	if caller != cl.session.Account() {
		return 0, escrow.ErrUnauthorized
	}

	opts, err := cl.session.TransactOpts(ctx)
	if err != nil {
		return 0, err
	}

	var tx *types.Transaction
	if token == escrow.NativeToken {
		opts.Value = amount
		tx, err = cl.bound.Transact(opts, "createTask", agent, description)
	} else {
		if err := cl.ensureAllowance(ctx, token, caller, amount); err != nil {
			return 0, err
		}
		tx, err = cl.bound.Transact(opts, "createTaskWithToken", token, amount, agent, description)
	}
	if err != nil {
		return 0, mapRevert(err)
	}

	receipt, err := cl.waitMined(ctx, tx)
	if err != nil {
		return 0, err
	}

	taskID, err := cl.parseTaskIDFromReceipt(receipt)
	if err != nil {
		return 0, err
	}

	log.Printf("Task %d created, transaction: %s", taskID, tx.Hash().Hex())
	return taskID, nil
}

// CompleteTask submits the agent's result.
func (cl *ChainLedger) CompleteTask(ctx context.Context, caller common.Address, id escrow.TaskID, result string) error {
	if caller != cl.session.Account() {
		return escrow.ErrUnauthorized
	}

	opts, err := cl.session.TransactOpts(ctx)
	if err != nil {
		return err
	}

	tx, err := cl.bound.Transact(opts, "completeTask", new(big.Int).SetUint64(uint64(id)), result)
	if err != nil {
		return mapRevert(err)
	}

	if _, err := cl.waitMined(ctx, tx); err != nil {
		return err
	}

	log.Printf("Task %d submitted, transaction: %s", id, tx.Hash().Hex())
	return nil
}

// ApproveTask releases the locked amount to the agent.
func (cl *ChainLedger) ApproveTask(ctx context.Context, caller common.Address, id escrow.TaskID) error {
	if caller != cl.session.Account() {
		return escrow.ErrUnauthorized
	}

	opts, err := cl.session.TransactOpts(ctx)
	if err != nil {
		return err
	}

	tx, err := cl.bound.Transact(opts, "approveTask", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return mapRevert(err)
	}

	if _, err := cl.waitMined(ctx, tx); err != nil {
		return err
	}

	log.Printf("Task %d approved, transaction: %s", id, tx.Hash().Hex())
	return nil
}

// Allowance reads how much of token the escrow may move for owner.
func (cl *ChainLedger) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	input, err := cl.erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance call: %v", err)
	}

	result, err := cl.client.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: input,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance: %v", err)
	}

	var allowance *big.Int
	if err := cl.erc20ABI.UnpackIntoInterface(&allowance, "allowance", result); err != nil {
		return nil, fmt.Errorf("failed to unpack allowance result: %v", err)
	}

	return allowance, nil
}

// WatchCompleted subscribes to TaskCompleted logs. Requires a websocket
// RPC endpoint; over plain HTTP the subscription dial fails and the
// gateway runs without push notifications.
func (cl *ChainLedger) WatchCompleted(ctx context.Context) (<-chan escrow.TaskID, error) {
	completedTopic := cl.escrowABI.Events["TaskCompleted"].ID

	logs := make(chan types.Log, 16)
	sub, err := cl.client.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{cl.escrowAddr},
		Topics:    [][]common.Hash{{completedTopic}},
	}, logs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to TaskCompleted logs: %v", err)
	}

	out := make(chan escrow.TaskID, 16)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				log.Printf("TaskCompleted subscription error: %v", err)
				return
			case entry := <-logs:
				if len(entry.Topics) < 2 {
					continue
				}
				id := escrow.TaskID(new(big.Int).SetBytes(entry.Topics[1].Bytes()).Uint64())
				select {
				case out <- id:
				default:
				}
			}
		}
	}()

	return out, nil
}

// ensureAllowance runs the approve leg of the pre-approval pattern when
// the current allowance does not cover amount.
func (cl *ChainLedger) ensureAllowance(ctx context.Context, token, owner common.Address, amount *big.Int) error {
	current, err := cl.Allowance(ctx, token, owner, cl.escrowAddr)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}

	opts, err := cl.session.TransactOpts(ctx)
	if err != nil {
		return err
	}

	tokenContract := bind.NewBoundContract(token, cl.erc20ABI, cl.client, cl.client, cl.client)
	tx, err := tokenContract.Transact(opts, "approve", cl.escrowAddr, amount)
	if err != nil {
		return mapRevert(err)
	}

	if _, err := cl.waitMined(ctx, tx); err != nil {
		return escrow.ErrTransferFailed
	}

	log.Printf("Escrow approved for %s of token %s", amount.String(), token.Hex())
	return nil
}

func (cl *ChainLedger) waitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, cl.client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction confirmation: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s failed with status: %d", tx.Hash().Hex(), receipt.Status)
	}
	return receipt, nil
}

// parseTaskIDFromReceipt extracts the task id from the TaskCreated event.
func (cl *ChainLedger) parseTaskIDFromReceipt(receipt *types.Receipt) (escrow.TaskID, error) {
	createdTopic := cl.escrowABI.Events["TaskCreated"].ID

	for _, entry := range receipt.Logs {
		if entry.Address != cl.escrowAddr || len(entry.Topics) < 2 {
			continue
		}
		if entry.Topics[0] == createdTopic {
			return escrow.TaskID(new(big.Int).SetBytes(entry.Topics[1].Bytes()).Uint64()), nil
		}
	}

	return 0, fmt.Errorf("TaskCreated event not found in receipt")
}

func recordToTask(id escrow.TaskID, record *taskRecord) *escrow.Task {
	task := &escrow.Task{
		ID:          id,
		Creator:     record.Creator,
		Agent:       record.Agent,
		Token:       record.Token,
		Amount:      record.Amount,
		Description: record.Description,
		Status:      escrow.StatusFromCode(record.Status),
		Result:      record.Result,
	}
	if record.CreatedAt != nil {
		task.CreatedAt = unixTime(record.CreatedAt.Int64())
	}
	return task
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// mapRevert maps contract revert reasons onto the typed escrow errors so
// handlers can translate them uniformly.
func mapRevert(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "InvalidAmount"):
		return escrow.ErrInvalidAmount
	case strings.Contains(msg, "Unauthorized"):
		return escrow.ErrUnauthorized
	case strings.Contains(msg, "InvalidState"):
		return escrow.ErrInvalidState
	case strings.Contains(msg, "TransferFailed"):
		return escrow.ErrTransferFailed
	}
	return err
}
