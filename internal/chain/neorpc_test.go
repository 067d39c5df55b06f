package chain

import (
	"math/big"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/core/state"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/opcode"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
	"github.com/nspcc-dev/neo-go/pkg/vm/vmstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transferEvent(token, from, to util.Uint160, micro int64) state.NotificationEvent {
	return state.NotificationEvent{
		ScriptHash: token,
		Name:       "Transfer",
		Item: stackitem.NewArray([]stackitem.Item{
			stackitem.NewByteArray(from.BytesBE()),
			stackitem.NewByteArray(to.BytesBE()),
			stackitem.NewBigInteger(big.NewInt(micro)),
		}),
	}
}

// memoScript pushes the claimant id the way a wallet pushes the transfer
// data argument.
func memoScript(memo string) []byte {
	script := []byte{byte(opcode.PUSHDATA1), byte(len(memo))}
	return append(script, []byte(memo)...)
}

func TestAssembledEnvelopeParses(t *testing.T) {
	token := util.Uint160{0x01}
	from := util.Uint160{0xaa}
	to := util.Uint160{0xbb}
	n := &NeoRPC{token: token}

	appLog := &result.ApplicationLog{
		Executions: []state.Execution{{
			VMState: vmstate.Halt,
			Events:  []state.NotificationEvent{transferEvent(token, from, to, 4_500_000)},
		}},
	}

	parsed, err := ParseTransaction(n.assembleEnvelope(120, appLog, memoScript("42")))
	require.NoError(t, err)

	assert.True(t, parsed.Success)
	assert.Equal(t, int64(120), parsed.Height)
	assert.Equal(t, "42", parsed.Memo)
	require.Len(t, parsed.Transfers, 1)
	assert.Equal(t, address.Uint160ToString(from), parsed.Transfers[0].Sender)
	assert.Equal(t, address.Uint160ToString(to), parsed.Transfers[0].Recipient)
	assert.Equal(t, int64(4_500_000), parsed.Transfers[0].AmountMicro)
}

func TestAssembledEnvelopeFaultedExecution(t *testing.T) {
	token := util.Uint160{0x01}
	n := &NeoRPC{token: token}

	appLog := &result.ApplicationLog{
		Executions: []state.Execution{{
			VMState: vmstate.Fault,
			Events: []state.NotificationEvent{
				transferEvent(token, util.Uint160{0xaa}, util.Uint160{0xbb}, 4_500_000),
			},
		}},
	}

	parsed, err := ParseTransaction(n.assembleEnvelope(120, appLog, memoScript("42")))
	require.NoError(t, err)

	assert.False(t, parsed.Success)
	assert.Empty(t, parsed.Transfers)
}

func TestAssembledEnvelopeSkipsOtherTokens(t *testing.T) {
	n := &NeoRPC{token: util.Uint160{0x01}}

	appLog := &result.ApplicationLog{
		Executions: []state.Execution{{
			VMState: vmstate.Halt,
			Events: []state.NotificationEvent{
				transferEvent(util.Uint160{0x02}, util.Uint160{0xaa}, util.Uint160{0xbb}, 4_500_000),
			},
		}},
	}

	parsed, err := ParseTransaction(n.assembleEnvelope(120, appLog, memoScript("42")))
	require.NoError(t, err)

	assert.True(t, parsed.Success)
	assert.Empty(t, parsed.Transfers)
	assert.Equal(t, "42", parsed.Memo)
}

func TestAssembledEnvelopeMintAndBurnSkipped(t *testing.T) {
	token := util.Uint160{0x01}
	n := &NeoRPC{token: token}

	mint := state.NotificationEvent{
		ScriptHash: token,
		Name:       "Transfer",
		Item: stackitem.NewArray([]stackitem.Item{
			stackitem.Null{},
			stackitem.NewByteArray(util.Uint160{0xbb}.BytesBE()),
			stackitem.NewBigInteger(big.NewInt(1_000_000)),
		}),
	}
	appLog := &result.ApplicationLog{
		Executions: []state.Execution{{
			VMState: vmstate.Halt,
			Events:  []state.NotificationEvent{mint},
		}},
	}

	parsed, err := ParseTransaction(n.assembleEnvelope(120, appLog, nil))
	require.NoError(t, err)
	assert.Empty(t, parsed.Transfers)
}

func TestScriptDigitRuns(t *testing.T) {
	script := memoScript("42")
	// Non-digit payloads and truncated pushes are not memo candidates.
	script = append(script, byte(opcode.PUSHDATA1), 3, 'a', 'b', 'c')
	script = append(script, byte(opcode.PUSHDATA1), 200, '1')

	assert.Equal(t, []string{"42"}, scriptDigitRuns(script))
	assert.Empty(t, scriptDigitRuns(nil))
}
