package chain

import (
	"encoding/binary"
	"strconv"
)

// Transfer is one value movement inside a chain transaction.
type Transfer struct {
	Sender      string
	Recipient   string
	AmountMicro int64
}

// ParsedTx is the best-effort view of a raw chain transaction.
// Memo is heuristic: callers must still require an exact string match
// against the expected account id before crediting anything.
type ParsedTx struct {
	Success   bool
	Height    int64
	Memo      string
	Transfers []Transfer
}

// header is 1 status byte + 8 little-endian height bytes.
const headerLen = 9

// ParseTransaction scans the chain's wire encoding without a full schema
// decoder. After the fixed header it walks length-prefixed byte fields and
// classifies them by shape: 8 raw bytes form an amount, printable
// address-length runs form sender/recipient pairs, and short printable
// digit runs are memo candidates. A digit run that merely echoes a
// transferred amount is discarded, and any remaining ambiguity leaves the
// memo empty rather than guessing.
func ParseTransaction(raw []byte) (*ParsedTx, error) {
	if len(raw) < headerLen {
		return nil, ErrMalformedTransaction
	}

	parsed := &ParsedTx{
		Success: raw[0] == 0x01,
		Height:  int64(binary.LittleEndian.Uint64(raw[1:headerLen])),
	}

	var (
		memoCandidates []string
		sender         string
		recipient      string
	)

	body := raw[headerLen:]
	for i := 0; i < len(body); {
		n := int(body[i])
		i++
		if n == 0 {
			continue
		}
		if i+n > len(body) {
			return nil, ErrMalformedTransaction
		}
		field := body[i : i+n]
		i += n

		switch {
		case n == 8 && !printable(field):
			micro := int64(binary.LittleEndian.Uint64(field))
			if micro > 0 && sender != "" && recipient != "" {
				parsed.Transfers = append(parsed.Transfers, Transfer{
					Sender:      sender,
					Recipient:   recipient,
					AmountMicro: micro,
				})
			}
			sender, recipient = "", ""

		case addressShaped(field):
			if sender == "" {
				sender = string(field)
			} else {
				recipient = string(field)
			}

		case digitRun(field):
			memoCandidates = append(memoCandidates, string(field))
		}
	}

	parsed.Memo = pickMemo(memoCandidates, parsed.Transfers)
	return parsed, nil
}

// pickMemo keeps digit candidates that do not echo a transferred amount and
// returns the single distinct survivor, or "" when there is none or more
// than one.
func pickMemo(candidates []string, transfers []Transfer) string {
	amounts := make(map[string]bool, len(transfers))
	for _, tr := range transfers {
		amounts[strconv.FormatInt(tr.AmountMicro, 10)] = true
	}

	memo := ""
	for _, c := range candidates {
		if amounts[c] {
			continue
		}
		if memo != "" && memo != c {
			return "" // ambiguous
		}
		memo = c
	}
	return memo
}

func printable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// addressShaped matches the custodial chain's base58-style account strings:
// printable alphanumeric runs of address length containing letters.
func addressShaped(b []byte) bool {
	if len(b) < 20 || len(b) > 63 || !printable(b) {
		return false
	}
	hasLetter := false
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			hasLetter = true
		default:
			return false
		}
	}
	return hasLetter
}

// digitRun matches short numeric strings, the shape of an account-id memo.
func digitRun(b []byte) bool {
	if len(b) == 0 || len(b) > 19 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
