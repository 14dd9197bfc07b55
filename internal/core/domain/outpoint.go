package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type Outpoint struct {
	Txid string
	VOut uint32
}

func (k *Outpoint) FromString(s string) error {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return fmt.Errorf("invalid outpoint string: %s", s)
	}
	k.Txid = parts[0]
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid vout string: %s", parts[1])
	}
	k.VOut = uint32(vout)
	return nil
}

func (k Outpoint) String() string {
	return fmt.Sprintf("%s:%d", k.Txid, k.VOut)
}

// UnspentOutput is a wallet-owned transparent output. Tainted outputs
// already carry an inscription and must never be selected as plain funding.
type UnspentOutput struct {
	Outpoint
	Value   uint64
	Script  []byte
	Tainted bool
}
