package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/opcode"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
	"github.com/nspcc-dev/neo-go/pkg/vm/vmstate"
)

// NeoRPC adapts a Neo N3 node to the RPC capability. The custodial token
// carries 6 decimals, so its raw NEP-17 units are ledger micro-units.
type NeoRPC struct {
	client *rpcclient.Client
	token  util.Uint160
}

// DialNeo connects to a Neo RPC endpoint. Connection and all requests are
// bounded by the given timeout.
func DialNeo(ctx context.Context, endpoint, tokenHash string, timeout time.Duration) (*NeoRPC, error) {
	c, err := rpcclient.New(ctx, endpoint, rpcclient.Options{
		DialTimeout:    timeout,
		RequestTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("RPC client dial: %w", err)
	}

	token, err := util.Uint160DecodeStringLE(strings.TrimPrefix(tokenHash, "0x"))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("decode token hash: %w", err)
	}

	return &NeoRPC{client: c, token: token}, nil
}

// Close shuts the underlying RPC connection.
func (n *NeoRPC) Close() {
	n.client.Close()
}

// BalanceOf returns the address's custodial-token balance in micro-units.
func (n *NeoRPC) BalanceOf(_ context.Context, addr string) (int64, error) {
	acc, err := address.StringToUint160(addr)
	if err != nil {
		return 0, fmt.Errorf("decode address: %w", err)
	}

	balances, err := n.client.GetNEP17Balances(acc)
	if err != nil {
		return 0, fmt.Errorf("get balances: %w", err)
	}

	for _, b := range balances.Balances {
		if b.Asset.Equals(n.token) {
			micro, err := strconv.ParseInt(b.Amount, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse balance %q: %w", b.Amount, err)
			}
			return micro, nil
		}
	}

	return 0, nil
}

// RawTransaction fetches a transaction by hash and renders it in the
// envelope ParseTransaction consumes. A Neo transaction's own wire bytes
// carry no execution outcome, so the status byte and height come from the
// application log and the transaction-height query; token Transfer events
// supply the sender/recipient/amount fields, and the memo convention puts
// the claimant id in the invocation script's pushed transfer data.
func (n *NeoRPC) RawTransaction(_ context.Context, txHash string) ([]byte, error) {
	h, err := util.Uint256DecodeStringLE(strings.TrimPrefix(txHash, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode tx hash: %w", err)
	}

	tx, err := n.client.GetRawTransaction(h)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	height, err := n.client.GetTransactionHeight(h)
	if err != nil {
		return nil, fmt.Errorf("get transaction height: %w", err)
	}

	appLog, err := n.client.GetApplicationLog(h, nil)
	if err != nil {
		return nil, fmt.Errorf("get application log: %w", err)
	}

	return n.assembleEnvelope(height, appLog, tx.Script), nil
}

// assembleEnvelope lays out one status byte, the little-endian height, and
// a length-prefixed field per transfer component and memo candidate.
// Notifications of faulted executions never persisted on chain, so only
// halted executions contribute transfers.
func (n *NeoRPC) assembleEnvelope(height uint32, appLog *result.ApplicationLog, script []byte) []byte {
	buf := make([]byte, headerLen)
	binary.LittleEndian.PutUint64(buf[1:headerLen], uint64(height))

	for _, e := range appLog.Executions {
		if e.VMState != vmstate.Halt {
			continue
		}
		buf[0] = 0x01

		for _, ev := range e.Events {
			if ev.Name != "Transfer" || !ev.ScriptHash.Equals(n.token) {
				continue
			}
			from, to, micro, ok := decodeTransferEvent(ev.Item)
			if !ok {
				continue
			}
			buf = appendEnvelopeField(buf, []byte(from))
			buf = appendEnvelopeField(buf, []byte(to))
			var amt [8]byte
			binary.LittleEndian.PutUint64(amt[:], uint64(micro))
			buf = appendEnvelopeField(buf, amt[:])
		}
	}

	for _, memo := range scriptDigitRuns(script) {
		buf = appendEnvelopeField(buf, []byte(memo))
	}

	return buf
}

// decodeTransferEvent unpacks a NEP-17 Transfer notification: [from, to,
// amount]. Mints and burns carry a Null endpoint and are skipped, as is
// anything that does not fit the standard's shape.
func decodeTransferEvent(item *stackitem.Array) (from, to string, micro int64, ok bool) {
	items, isArr := item.Value().([]stackitem.Item)
	if !isArr || len(items) != 3 {
		return "", "", 0, false
	}

	from, ok = addressFromItem(items[0])
	if !ok {
		return "", "", 0, false
	}
	to, ok = addressFromItem(items[1])
	if !ok {
		return "", "", 0, false
	}

	bi, err := items[2].TryInteger()
	if err != nil || !bi.IsInt64() {
		return "", "", 0, false
	}
	return from, to, bi.Int64(), true
}

func addressFromItem(it stackitem.Item) (string, bool) {
	b, err := it.TryBytes()
	if err != nil {
		return "", false
	}
	u, err := util.Uint160DecodeBytesBE(b)
	if err != nil {
		return "", false
	}
	return address.Uint160ToString(u), true
}

// scriptDigitRuns extracts memo candidates from an invocation script: the
// transfer data argument, pushed as a short string via PUSHDATA1, carries
// the claimant's account id.
func scriptDigitRuns(script []byte) []string {
	var runs []string
	for i := 0; i+2 <= len(script); i++ {
		if opcode.Opcode(script[i]) != opcode.PUSHDATA1 {
			continue
		}
		size := int(script[i+1])
		start := i + 2
		if size == 0 || start+size > len(script) {
			continue
		}
		if field := script[start : start+size]; digitRun(field) {
			runs = append(runs, string(field))
			i = start + size - 1
		}
	}
	return runs
}

func appendEnvelopeField(buf, field []byte) []byte {
	if len(field) == 0 || len(field) > 0xff {
		return buf
	}
	buf = append(buf, byte(len(field)))
	return append(buf, field...)
}

// Broadcast submits a signed transaction and returns its hash.
func (n *NeoRPC) Broadcast(_ context.Context, signed []byte) (string, error) {
	tx, err := transaction.NewTransactionFromBytes(signed)
	if err != nil {
		return "", fmt.Errorf("decode signed transaction: %w", err)
	}

	h, err := n.client.SendRawTransaction(tx)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	return h.StringLE(), nil
}
