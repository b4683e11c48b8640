package contract

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// taskEscrowABI is the wire surface of the TaskEscrow contract the
// gateway depends on: task reads, the three state transitions, and the
// lifecycle events.
const taskEscrowABI = `[
  {
    "inputs": [],
    "name": "nextTaskId",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "name": "tasks",
    "outputs": [
      {"internalType": "address", "name": "creator", "type": "address"},
      {"internalType": "address", "name": "agent", "type": "address"},
      {"internalType": "address", "name": "token", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"},
      {"internalType": "string", "name": "description", "type": "string"},
      {"internalType": "uint8", "name": "status", "type": "uint8"},
      {"internalType": "string", "name": "result", "type": "string"},
      {"internalType": "uint256", "name": "createdAt", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "agent", "type": "address"},
      {"internalType": "string", "name": "description", "type": "string"}
    ],
    "name": "createTask",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address", "name": "token", "type": "address"},
      {"internalType": "uint256", "name": "amount", "type": "uint256"},
      {"internalType": "address", "name": "agent", "type": "address"},
      {"internalType": "string", "name": "description", "type": "string"}
    ],
    "name": "createTaskWithToken",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "taskId", "type": "uint256"},
      {"internalType": "string", "name": "result", "type": "string"}
    ],
    "name": "completeTask",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "uint256", "name": "taskId", "type": "uint256"}],
    "name": "approveTask",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "taskId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "creator", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "agent", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
    ],
    "name": "TaskCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "taskId", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "result", "type": "string"}
    ],
    "name": "TaskSubmitted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "taskId", "type": "uint256"}
    ],
    "name": "TaskCompleted",
    "type": "event"
  }
]`

// TaskEscrowABI parses the TaskEscrow contract ABI.
func TaskEscrowABI() (abi.ABI, error) {
	parsed, err := abi.JSON(newReader(taskEscrowABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse task escrow ABI: %v", err)
	}
	return parsed, nil
}
