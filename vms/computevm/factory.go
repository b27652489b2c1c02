// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package computevm implements a VM that pays anonymous workers for
// computing a task's result once a majority of them agree on it.
package computevm

import (
	"github.com/luxfi/log"

	vmcore "github.com/luxfi/computevm"
	"github.com/luxfi/computevm/vms/computevm/config"
)

var (
	// VMID is the unique identifier for the compute VM
	VMID = [32]byte{'c', 'o', 'm', 'p', 'u', 't', 'e', 'v', 'm'}

	_ vmcore.Factory = (*Factory)(nil)
)

// Factory creates compute VMs. Config is the base that the chain's config
// bytes are applied on top of.
type Factory struct {
	config.Config
}

func (f *Factory) New(logger log.Logger) (vmcore.VM, error) {
	return &VM{
		Config: f.Config,
		log:    logger,
	}, nil
}
