package zcash

import (
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
)

// curveHalfOrder is secp256k1 N/2, the low-S boundary.
var curveHalfOrder = new(big.Int).Rsh(btcec.S256().N, 1)

// EncodeDERSignature canonicalizes a raw 64-byte (R || S) signature into DER
// form with the hash-type byte appended. Redundant leading zero bytes are
// stripped from both scalars while preserving the sign bit, and S is negated
// modulo the curve order when it exceeds the half order, so the result is
// never malleable.
func EncodeDERSignature(raw []byte, hashType byte) ([]byte, error) {
	if len(raw) != 64 {
		return nil, fmt.Errorf("raw signature is %d bytes, want 64", len(raw))
	}

	r := new(big.Int).SetBytes(raw[:32])
	s := new(big.Int).SetBytes(raw[32:])
	if r.Sign() == 0 || s.Sign() == 0 {
		return nil, fmt.Errorf("signature scalar is zero")
	}
	if r.Cmp(btcec.S256().N) >= 0 || s.Cmp(btcec.S256().N) >= 0 {
		return nil, fmt.Errorf("signature scalar exceeds curve order")
	}
	if s.Cmp(curveHalfOrder) > 0 {
		s = new(big.Int).Sub(btcec.S256().N, s)
	}

	rb := canonicalScalarBytes(r)
	sb := canonicalScalarBytes(s)

	sig := make([]byte, 0, 6+len(rb)+len(sb)+1)
	sig = append(sig, 0x30, byte(4+len(rb)+len(sb)))
	sig = append(sig, 0x02, byte(len(rb)))
	sig = append(sig, rb...)
	sig = append(sig, 0x02, byte(len(sb)))
	sig = append(sig, sb...)
	sig = append(sig, hashType)
	return sig, nil
}

// canonicalScalarBytes returns the minimal big-endian encoding of a positive
// scalar: no redundant leading zeros, but one zero byte kept when the top bit
// is set so the DER integer stays positive.
func canonicalScalarBytes(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) == 0 {
		return []byte{0x00}
	}
	if b[0]&0x80 != 0 {
		return append([]byte{0x00}, b...)
	}
	return b
}

// P2PKHSpendScript assembles the scriptSig spending a pay-to-public-key-hash
// output: <derSig+hashType> <pubkey>.
func P2PKHSpendScript(derSig, pubKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(derSig).
		AddData(pubKey).
		Script()
}

// RevealSpendScript assembles the scriptSig spending the funding output:
// the signature followed by the full reveal script. Pushing the script
// itself, rather than its hash, is what exposes the inscription envelope
// on-chain.
func RevealSpendScript(derSig, revealScript []byte) ([]byte, error) {
	// AddFullData: reveal scripts may exceed the 520-byte element limit the
	// canonical builder enforces for regular pushes.
	return txscript.NewScriptBuilder().
		AddData(derSig).
		AddFullData(revealScript).
		Script()
}
