package zcash

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// MaxRevealScriptSize is the consensus script size limit. Content whose
	// reveal script would exceed it is rejected before any transaction is
	// built.
	MaxRevealScriptSize = 10000

	// maxChunkSize is the largest single push allowed in a script.
	maxChunkSize = txscript.MaxScriptElementSize

	// DustThreshold is the smallest output value worth creating as change.
	DustThreshold uint64 = 546
)

// provisionalPubKey stands in for the revealer public key while the funding
// requirement is being estimated. The reveal script must be rebuilt with the
// real key before the funding script hash is bound (see RevealScriptBuilder).
var provisionalPubKey = append([]byte{0x02}, make([]byte, 32)...)

// RevealScriptBuilder builds the reveal (redeem) script in two stages. The
// script embeds the revealer public key, which is only known once signing
// begins, so callers first obtain a Provisional script to size the funding
// output, then Finalize with the real key to bind the funding script hash.
type RevealScriptBuilder struct {
	contentType string
	payload     []byte
}

// NewRevealScriptBuilder validates the content size and returns a two-stage
// builder for its reveal script.
func NewRevealScriptBuilder(contentType string, payload []byte) (*RevealScriptBuilder, error) {
	b := &RevealScriptBuilder{contentType: contentType, payload: payload}
	script, err := b.build(provisionalPubKey)
	if err != nil {
		return nil, err
	}
	if len(script) > MaxRevealScriptSize {
		return nil, fmt.Errorf(
			"reveal script is %d bytes, max %d", len(script), MaxRevealScriptSize,
		)
	}
	return b, nil
}

// Provisional returns the reveal script built with a placeholder public key.
// Its length equals the finalized script's length, so it is safe for fee and
// size estimation, but its hash must never be bound to a funding output.
func (b *RevealScriptBuilder) Provisional() []byte {
	script, err := b.build(provisionalPubKey)
	if err != nil {
		// build already succeeded in the constructor with a same-size key
		panic(fmt.Sprintf("provisional reveal script: %s", err))
	}
	return script
}

// Finalize returns the reveal script bound to the revealer public key.
func (b *RevealScriptBuilder) Finalize(pubKey *btcec.PublicKey) ([]byte, error) {
	return b.build(pubKey.SerializeCompressed())
}

// build assembles <pubkey> OP_CHECKSIGVERIFY <chunk> OP_DROP ... OP_TRUE,
// where the chunks are the content-type push followed by the payload split
// into maximal pushes.
func (b *RevealScriptBuilder) build(pubKey []byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddData(pubKey)
	builder.AddOp(txscript.OP_CHECKSIGVERIFY)
	for _, chunk := range EnvelopeChunks([]byte(b.contentType), b.payload) {
		builder.AddData(chunk)
		builder.AddOp(txscript.OP_DROP)
	}
	builder.AddOp(txscript.OP_TRUE)
	return builder.Script()
}

// EnvelopeChunks returns the ordered push-operation payloads of the
// inscription envelope: the content type followed by the payload split into
// pushes of at most maxChunkSize bytes. A zero-length payload yields a single
// empty chunk so the envelope shape is preserved.
func EnvelopeChunks(contentType, payload []byte) [][]byte {
	chunks := [][]byte{contentType}
	if len(payload) == 0 {
		return append(chunks, []byte{})
	}
	for off := 0; off < len(payload); off += maxChunkSize {
		end := off + maxChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[off:end])
	}
	return chunks
}

// FundingScript returns the hash-locked script paying to the reveal script:
// OP_HASH160 <hash160(revealScript)> OP_EQUAL.
func FundingScript(revealScript []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(revealScript)).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// ParseEnvelope recovers the content type and payload embedded in a reveal
// script. Runtime decoding is not required by the engine; this is used by
// tests and tooling to verify round-trips.
func ParseEnvelope(revealScript []byte) (contentType string, payload []byte, err error) {
	tokenizer := txscript.MakeScriptTokenizer(0, revealScript)

	// <pubkey>
	if !tokenizer.Next() || len(tokenizer.Data()) == 0 {
		return "", nil, fmt.Errorf("missing revealer public key push")
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_CHECKSIGVERIFY {
		return "", nil, fmt.Errorf("missing OP_CHECKSIGVERIFY")
	}

	var chunks [][]byte
	for tokenizer.Next() {
		if tokenizer.Opcode() == txscript.OP_TRUE {
			break
		}
		chunk := tokenizer.Data()
		if chunk == nil {
			// the script builder emits minimal pushes, so single bytes in
			// the small-integer range come back as OP_N opcodes
			op := tokenizer.Opcode()
			switch {
			case op == txscript.OP_0:
				chunk = []byte{}
			case op >= txscript.OP_1 && op <= txscript.OP_16:
				chunk = []byte{op - txscript.OP_1 + 1}
			case op == txscript.OP_1NEGATE:
				chunk = []byte{0x81}
			default:
				return "", nil, fmt.Errorf("unexpected opcode %d in envelope", op)
			}
		}
		chunks = append(chunks, chunk)
		if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_DROP {
			return "", nil, fmt.Errorf("envelope chunk not followed by drop")
		}
	}
	if err := tokenizer.Err(); err != nil {
		return "", nil, err
	}
	if len(chunks) == 0 {
		return "", nil, fmt.Errorf("empty envelope")
	}

	var buf bytes.Buffer
	for _, chunk := range chunks[1:] {
		buf.Write(chunk)
	}
	return string(chunks[0]), buf.Bytes(), nil
}

// P2PKHScript returns the standard pay-to-public-key-hash script for the
// given 20-byte key hash.
func P2PKHScript(pubKeyHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pubKeyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}
