package zcash

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"

	blake2b "github.com/minio/blake2b-simd"
)

// Signature hash types supported by the engine. SighashSingle combined with
// SighashAnyOneCanPay is the append-safe mode used for one-sided swap offers:
// the resulting signature covers only the signed input and its same-index
// output, so additional inputs and outputs may be appended without
// invalidating it.
const (
	SighashAll          uint32 = 0x01
	SighashNone         uint32 = 0x02
	SighashSingle       uint32 = 0x03
	SighashAnyOneCanPay uint32 = 0x80
)

// BLAKE2b personalization strings mandated by the v4 signature hash
// algorithm. The digest personalization embeds the little-endian consensus
// branch id after the fixed tag.
const (
	sighashPersonTag = "ZcashSigHash"
	personPrevouts   = "ZcashPrevoutHash"
	personSequence   = "ZcashSequencHash"
	personOutputs    = "ZcashOutputsHash"
)

// ConsensusBranchNU5 is the branch id activated by the NU5 network upgrade,
// used as a default when the branch-id collaborator is unavailable.
const ConsensusBranchNU5 uint32 = 0xC2D6D0B4

// blake2b256 returns a 32-byte BLAKE2b hasher with the given personalization.
// A personalization of the wrong length is a programming error.
func blake2b256(person []byte) hash.Hash {
	h, err := blake2b.New(&blake2b.Config{Size: 32, Person: person})
	if err != nil {
		panic(fmt.Sprintf("blake2b config: %s", err))
	}
	return h
}

// SignatureDigest computes the digest to be signed for the input at idx,
// per the v4 (Sapling) transparent signature hash algorithm. The input must
// carry its funding value and prevout script. The returned digest is what an
// external signer signs; the engine never signs itself.
func SignatureDigest(tx *Tx, idx int, hashType uint32, branchID uint32) ([32]byte, error) {
	var digest [32]byte
	preimage, err := SignaturePreimage(tx, idx, hashType, branchID)
	if err != nil {
		return digest, err
	}

	person := make([]byte, 16)
	copy(person, sighashPersonTag)
	binary.LittleEndian.PutUint32(person[12:], branchID)

	h := blake2b256(person)
	h.Write(preimage)
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// SignaturePreimage assembles the fixed-layout byte sequence hashed by
// SignatureDigest. Exposed separately so tests can assert the exact layout.
func SignaturePreimage(tx *Tx, idx int, hashType uint32, branchID uint32) ([]byte, error) {
	if idx < 0 || idx >= len(tx.Inputs) {
		return nil, fmt.Errorf("input index %d out of bounds (%d inputs)", idx, len(tx.Inputs))
	}
	in := tx.Inputs[idx]
	if len(in.PrevScript) == 0 {
		return nil, fmt.Errorf("input %d has no prevout script", idx)
	}

	anyoneCanPay := hashType&SighashAnyOneCanPay != 0
	maskedType := hashType & 0x1f

	buf := new(bytes.Buffer)

	// nolint:errcheck
	binary.Write(buf, binary.LittleEndian, tx.Version|overwinterFlag)
	// nolint:errcheck
	binary.Write(buf, binary.LittleEndian, tx.VersionGroupID)

	prevoutsDigest, err := hashPrevouts(tx.Inputs, anyoneCanPay)
	if err != nil {
		return nil, err
	}
	buf.Write(prevoutsDigest[:])

	sequenceDigest := hashSequence(tx.Inputs, anyoneCanPay, maskedType)
	buf.Write(sequenceDigest[:])

	outputsDigest := hashOutputs(tx.Outputs, maskedType, idx)
	buf.Write(outputsDigest[:])

	// hashJoinSplits, hashShieldedSpends, hashShieldedOutputs: this engine
	// only builds transparent transactions, so all three are zero-filled.
	buf.Write(make([]byte, 32))
	buf.Write(make([]byte, 32))
	buf.Write(make([]byte, 32))

	// nolint:errcheck
	binary.Write(buf, binary.LittleEndian, tx.LockTime)
	// nolint:errcheck
	binary.Write(buf, binary.LittleEndian, tx.ExpiryHeight)

	// valueBalance, zero for transparent-only transactions.
	buf.Write(make([]byte, 8))

	// nolint:errcheck
	binary.Write(buf, binary.LittleEndian, hashType)

	prevout, err := serializePrevout(in.PrevTxid, in.PrevIndex)
	if err != nil {
		return nil, err
	}
	buf.Write(prevout)

	writeCompactSize(buf, uint64(len(in.PrevScript)))
	buf.Write(in.PrevScript)

	// nolint:errcheck
	binary.Write(buf, binary.LittleEndian, in.Value)
	// nolint:errcheck
	binary.Write(buf, binary.LittleEndian, in.Sequence)

	return buf.Bytes(), nil
}

// hashPrevouts hashes all (txid, index) prevout pairs. Under ANYONECANPAY
// the field is the literal zero uint256, not the hash of empty input.
func hashPrevouts(inputs []*TxInput, anyoneCanPay bool) ([32]byte, error) {
	var digest [32]byte
	if anyoneCanPay {
		return digest, nil
	}
	h := blake2b256([]byte(personPrevouts))
	for _, in := range inputs {
		prevout, err := serializePrevout(in.PrevTxid, in.PrevIndex)
		if err != nil {
			return digest, err
		}
		h.Write(prevout)
	}
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// hashSequence hashes all input sequence numbers. The field is the literal
// zero uint256 under ANYONECANPAY, SINGLE and NONE.
func hashSequence(inputs []*TxInput, anyoneCanPay bool, maskedType uint32) [32]byte {
	var digest [32]byte
	if anyoneCanPay || maskedType == SighashSingle || maskedType == SighashNone {
		return digest
	}
	h := blake2b256([]byte(personSequence))
	for _, in := range inputs {
		// nolint:errcheck
		binary.Write(h, binary.LittleEndian, in.Sequence)
	}
	copy(digest[:], h.Sum(nil))
	return digest
}

// hashOutputs hashes the (value, script) tuples covered by the hash type:
// every output for ALL, only the same-index output for SINGLE. The field is
// the literal zero uint256 for NONE and for SINGLE without a paired output.
func hashOutputs(outputs []*TxOutput, maskedType uint32, idx int) [32]byte {
	var digest [32]byte
	switch maskedType {
	case SighashNone:
		return digest
	case SighashSingle:
		if idx >= len(outputs) {
			return digest
		}
		h := blake2b256([]byte(personOutputs))
		writeOutput(h, outputs[idx])
		copy(digest[:], h.Sum(nil))
	default:
		h := blake2b256([]byte(personOutputs))
		for _, out := range outputs {
			writeOutput(h, out)
		}
		copy(digest[:], h.Sum(nil))
	}
	return digest
}

func writeOutput(h hash.Hash, out *TxOutput) {
	// nolint:errcheck
	binary.Write(h, binary.LittleEndian, out.Value)
	writeCompactSize(h, uint64(len(out.Script)))
	h.Write(out.Script)
}
