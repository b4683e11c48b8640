package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskEscrowABIParses(t *testing.T) {
	parsed, err := TaskEscrowABI()
	require.NoError(t, err)

	for _, method := range []string{"nextTaskId", "tasks", "createTask", "createTaskWithToken", "completeTask", "approveTask"} {
		_, ok := parsed.Methods[method]
		assert.True(t, ok, "missing method %s", method)
	}
	for _, event := range []string{"TaskCreated", "TaskSubmitted", "TaskCompleted"} {
		_, ok := parsed.Events[event]
		assert.True(t, ok, "missing event %s", event)
	}

	assert.True(t, parsed.Methods["createTask"].IsPayable())
}

func TestERC20ABIParses(t *testing.T) {
	parsed, err := ERC20ABI()
	require.NoError(t, err)

	for _, method := range []string{"approve", "transferFrom", "allowance", "balanceOf"} {
		_, ok := parsed.Methods[method]
		assert.True(t, ok, "missing method %s", method)
	}
}
