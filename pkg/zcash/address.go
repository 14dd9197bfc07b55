package zcash

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Network selects the transparent address version bytes.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// Two-byte transparent address version prefixes. Mainnet P2PKH addresses
// render as t1..., mainnet P2SH as t3...; testnet and regtest share the
// tm.../t2... prefixes.
var (
	p2pkhPrefixes = map[Network][2]byte{
		Mainnet: {0x1C, 0xB8},
		Testnet: {0x1D, 0x25},
		Regtest: {0x1D, 0x25},
	}
	p2shPrefixes = map[Network][2]byte{
		Mainnet: {0x1C, 0xBD},
		Testnet: {0x1C, 0xBA},
		Regtest: {0x1C, 0xBA},
	}
)

// EncodeP2PKHAddress encodes a 20-byte public key hash as a transparent
// address.
func EncodeP2PKHAddress(pubKeyHash []byte, network Network) (string, error) {
	prefix, ok := p2pkhPrefixes[network]
	if !ok {
		return "", fmt.Errorf("unknown network %s", network)
	}
	return checkEncode(prefix, pubKeyHash)
}

// EncodeP2SHAddress encodes a 20-byte script hash as a transparent address.
func EncodeP2SHAddress(scriptHash []byte, network Network) (string, error) {
	prefix, ok := p2shPrefixes[network]
	if !ok {
		return "", fmt.Errorf("unknown network %s", network)
	}
	return checkEncode(prefix, scriptHash)
}

// PayToAddrScript decodes a transparent address and returns the script
// paying to it (P2PKH or P2SH depending on the address prefix).
func PayToAddrScript(addr string, network Network) ([]byte, error) {
	prefix, hash, err := checkDecode(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", addr, err)
	}
	switch {
	case prefix == p2pkhPrefixes[network]:
		return P2PKHScript(hash)
	case prefix == p2shPrefixes[network]:
		return p2shScriptFromHash(hash)
	default:
		return nil, fmt.Errorf("address %s does not belong to %s", addr, network)
	}
}

func p2shScriptFromHash(scriptHash []byte) ([]byte, error) {
	script := make([]byte, 0, 23)
	script = append(script, 0xa9, 0x14) // OP_HASH160 OP_DATA_20
	script = append(script, scriptHash...)
	script = append(script, 0x87) // OP_EQUAL
	return script, nil
}

// checkEncode base58check-encodes a two-byte-versioned payload. The btcutil
// helper only supports one-byte versions, so the checksum is applied here.
func checkEncode(prefix [2]byte, payload []byte) (string, error) {
	if len(payload) != 20 {
		return "", fmt.Errorf("payload is %d bytes, want 20", len(payload))
	}
	body := make([]byte, 0, 2+20+4)
	body = append(body, prefix[:]...)
	body = append(body, payload...)
	checksum := chainhash.DoubleHashB(body)[:4]
	body = append(body, checksum...)
	return base58.Encode(body), nil
}

func checkDecode(addr string) ([2]byte, []byte, error) {
	var prefix [2]byte
	decoded := base58.Decode(addr)
	if len(decoded) != 2+20+4 {
		return prefix, nil, fmt.Errorf("decoded length %d", len(decoded))
	}
	body, checksum := decoded[:22], decoded[22:]
	if !bytes.Equal(chainhash.DoubleHashB(body)[:4], checksum) {
		return prefix, nil, fmt.Errorf("checksum mismatch")
	}
	copy(prefix[:], body[:2])
	return prefix, body[2:], nil
}
