// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package computevm

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/computevm/vms/computevm/payment"
	"github.com/luxfi/computevm/vms/computevm/state"
)

var errReservedAddress = errors.New("genesis allocates to the escrow account")

// Allocation is a balance minted at genesis.
type Allocation struct {
	Address ids.ShortID `serialize:"true" json:"address"`
	Balance uint64      `serialize:"true" json:"balance"`
}

// Genesis is the initial state of the chain.
type Genesis struct {
	Allocations []Allocation `serialize:"true" json:"allocations"`
}

func ParseGenesis(genesisBytes []byte) (*Genesis, error) {
	g := &Genesis{}
	if len(genesisBytes) == 0 {
		return g, nil
	}
	if _, err := state.Codec.Unmarshal(genesisBytes, g); err != nil {
		return nil, fmt.Errorf("failed to parse genesis: %w", err)
	}
	return g, g.Verify()
}

func (g *Genesis) Verify() error {
	for _, a := range g.Allocations {
		if a.Address == payment.EscrowAccount {
			return errReservedAddress
		}
	}
	return nil
}

func (g *Genesis) Bytes() ([]byte, error) {
	return state.Codec.Marshal(state.CodecVersion, g)
}
