package zcash

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// TxVersionSapling is the transaction version used for transparent-only
	// v4 transactions since the Sapling network upgrade.
	TxVersionSapling uint32 = 4

	// overwinterFlag is the high bit of the version field marking the
	// transaction as overwintered.
	overwinterFlag uint32 = 1 << 31

	// SaplingVersionGroupID identifies the v4 transaction format.
	SaplingVersionGroupID uint32 = 0x892F2085

	// MaxSequence disables per-input relative locktime semantics.
	MaxSequence uint32 = 0xffffffff
)

// TxInput is one transparent input of a transaction skeleton. Value and
// PrevScript are not part of the serialized input; they are required to
// compute the input's signature digest.
type TxInput struct {
	PrevTxid   string
	PrevIndex  uint32
	Sequence   uint32
	Value      uint64
	PrevScript []byte
	ScriptSig  []byte
}

// TxOutput is one transparent output.
type TxOutput struct {
	Value  uint64
	Script []byte
}

// Tx is a transparent v4 transaction skeleton. Shielded bundles are not
// supported: the serializer always emits a zero value balance and zero
// shielded spend, shielded output and joinsplit counts.
type Tx struct {
	Version        uint32
	VersionGroupID uint32
	Inputs         []*TxInput
	Outputs        []*TxOutput
	LockTime       uint32
	ExpiryHeight   uint32
}

// NewTx returns an empty v4 Sapling transaction skeleton.
func NewTx() *Tx {
	return &Tx{
		Version:        TxVersionSapling,
		VersionGroupID: SaplingVersionGroupID,
	}
}

// AddInput appends an input spending the given prevout. The prevout value and
// script are retained for sighash computation.
func (t *Tx) AddInput(prevTxid string, prevIndex uint32, value uint64, prevScript []byte) *TxInput {
	in := &TxInput{
		PrevTxid:   prevTxid,
		PrevIndex:  prevIndex,
		Sequence:   MaxSequence,
		Value:      value,
		PrevScript: prevScript,
	}
	t.Inputs = append(t.Inputs, in)
	return in
}

// AddOutput appends an output paying value to the given script.
func (t *Tx) AddOutput(value uint64, script []byte) *TxOutput {
	out := &TxOutput{Value: value, Script: script}
	t.Outputs = append(t.Outputs, out)
	return out
}

// Clone returns a deep copy of the transaction, script sigs included.
func (t *Tx) Clone() *Tx {
	clone := &Tx{
		Version:        t.Version,
		VersionGroupID: t.VersionGroupID,
		LockTime:       t.LockTime,
		ExpiryHeight:   t.ExpiryHeight,
		Inputs:         make([]*TxInput, 0, len(t.Inputs)),
		Outputs:        make([]*TxOutput, 0, len(t.Outputs)),
	}
	for _, in := range t.Inputs {
		inCopy := *in
		inCopy.PrevScript = append([]byte(nil), in.PrevScript...)
		inCopy.ScriptSig = append([]byte(nil), in.ScriptSig...)
		clone.Inputs = append(clone.Inputs, &inCopy)
	}
	for _, out := range t.Outputs {
		outCopy := *out
		outCopy.Script = append([]byte(nil), out.Script...)
		clone.Outputs = append(clone.Outputs, &outCopy)
	}
	return clone
}

// Serialize returns the canonical v4 byte form of the transaction.
func (t *Tx) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)

	header := t.Version | overwinterFlag
	// nolint:errcheck
	binary.Write(buf, binary.LittleEndian, header)
	// nolint:errcheck
	binary.Write(buf, binary.LittleEndian, t.VersionGroupID)

	writeCompactSize(buf, uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		prevout, err := serializePrevout(in.PrevTxid, in.PrevIndex)
		if err != nil {
			return nil, err
		}
		buf.Write(prevout)
		writeCompactSize(buf, uint64(len(in.ScriptSig)))
		buf.Write(in.ScriptSig)
		// nolint:errcheck
		binary.Write(buf, binary.LittleEndian, in.Sequence)
	}

	writeCompactSize(buf, uint64(len(t.Outputs)))
	for _, out := range t.Outputs {
		// nolint:errcheck
		binary.Write(buf, binary.LittleEndian, out.Value)
		writeCompactSize(buf, uint64(len(out.Script)))
		buf.Write(out.Script)
	}

	// nolint:errcheck
	binary.Write(buf, binary.LittleEndian, t.LockTime)
	// nolint:errcheck
	binary.Write(buf, binary.LittleEndian, t.ExpiryHeight)

	// valueBalance, then nShieldedSpend, nShieldedOutput and nJoinSplit, all
	// zero for a transparent-only transaction.
	buf.Write(make([]byte, 8))
	buf.WriteByte(0x00)
	buf.WriteByte(0x00)
	buf.WriteByte(0x00)

	return buf.Bytes(), nil
}

// Hex returns the serialized transaction encoded as hex.
func (t *Tx) Hex() (string, error) {
	raw, err := t.Serialize()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// Txid returns the transaction id in display order (byte-reversed
// double-SHA256 of the serialization).
func (t *Tx) Txid() (string, error) {
	raw, err := t.Serialize()
	if err != nil {
		return "", err
	}
	return chainhash.DoubleHashH(raw).String(), nil
}

// serializePrevout writes the prevout reference in wire order: the txid in
// internal byte order followed by the little-endian output index.
func serializePrevout(txid string, index uint32) ([]byte, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, fmt.Errorf("invalid prevout txid %s: %w", txid, err)
	}
	buf := make([]byte, 36)
	copy(buf, hash[:])
	binary.LittleEndian.PutUint32(buf[32:], index)
	return buf, nil
}

// writeCompactSize encodes n with the standard 1/3/5/9-byte scheme.
func writeCompactSize(w io.Writer, n uint64) {
	switch {
	case n < 253:
		// nolint:errcheck
		w.Write([]byte{byte(n)})
	case n <= 0xffff:
		// nolint:errcheck
		w.Write([]byte{253})
		// nolint:errcheck
		binary.Write(w, binary.LittleEndian, uint16(n))
	case n <= 0xffffffff:
		// nolint:errcheck
		w.Write([]byte{254})
		// nolint:errcheck
		binary.Write(w, binary.LittleEndian, uint32(n))
	default:
		// nolint:errcheck
		w.Write([]byte{255})
		// nolint:errcheck
		binary.Write(w, binary.LittleEndian, n)
	}
}
