// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vm defines the interfaces shared by the compute VM and the
// processes that host it.
package vm

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// VM defines the interface for a virtual machine
type VM interface {
	// Initialize initializes the VM with the given configuration
	Initialize(context.Context, *Config) error

	// Shutdown cleanly stops the VM
	Shutdown(context.Context) error

	// Version returns the VM version
	Version(context.Context) (string, error)

	// SetState transitions the VM to the specified state
	SetState(context.Context, State) error

	// CreateHandlers returns the HTTP handlers served by the VM, keyed by
	// path relative to the VM's base endpoint.
	CreateHandlers(context.Context) (map[string]http.Handler, error)

	// HealthCheck reports the VM's health.
	HealthCheck(context.Context) (interface{}, error)
}

// Config defines VM configuration
type Config struct {
	ChainID   ids.ID
	NetworkID uint32
	NodeID    ids.NodeID

	// DB is the durable store owned by the VM for its lifetime.
	DB  database.Database
	Log log.Logger

	// Registerer receives the VM's metrics. A private registry is used if
	// nil.
	Registerer prometheus.Registerer

	// Publisher receives messages after each committed state change. Events
	// are dropped if nil.
	Publisher Publisher

	GenesisBytes []byte
	ConfigBytes  []byte
}
