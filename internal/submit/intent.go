package submit

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// ActionKind tags the protocol-maintenance action an intent carries.
type ActionKind string

const (
	ActionStartLiquidation ActionKind = "start_liquidation"
	ActionBid              ActionKind = "bid"
	ActionRecoverBadDebt   ActionKind = "recover_bad_debt"
	ActionStartRecharge    ActionKind = "start_recharge"
	ActionSettleRecharge   ActionKind = "settle_recharge"
	ActionStartSurplus     ActionKind = "start_surplus"
	ActionOracleUpdate     ActionKind = "oracle_update"
)

// Intent is a single attempt at one on-chain effect. The payload is opaque:
// the transaction builder collaborator produces it, the ledger consumes it.
// Intents live only in memory; after a restart the next cycle re-derives
// everything from ledger state, which is why the key below must be a pure
// function of observable state.
type Intent struct {
	Kind    ActionKind
	Target  string
	Epoch   uint64
	Amount  float64
	Price   float64
	Payload []byte
}

// Key derives the deterministic idempotency key: canonical msgpack encoding
// of (kind, target, epoch) hashed with keccak-256. Amount and price are
// deliberately excluded so a recomputed bid price does not mint a new key
// while the prior attempt is still in flight.
func (i Intent) Key() (string, error) {
	if i.Kind == "" {
		return "", errors.New("intent kind is required")
	}
	if i.Target == "" {
		return "", errors.New("intent target is required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(3); err != nil {
		return "", err
	}
	if err := enc.EncodeString(string(i.Kind)); err != nil {
		return "", err
	}
	if err := enc.EncodeString(i.Target); err != nil {
		return "", err
	}
	var epochBytes [8]byte
	binary.BigEndian.PutUint64(epochBytes[:], i.Epoch)
	if err := enc.EncodeBytes(epochBytes[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.Keccak256(buf.Bytes())), nil
}
