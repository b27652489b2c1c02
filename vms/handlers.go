// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/computevm/api/server"
)

// ChainAliasPrefix is the base under which every chain's endpoints live.
const ChainAliasPrefix = "bc"

// HandlerProvider is the interface that VMs must implement to provide HTTP handlers
type HandlerProvider interface {
	CreateHandlers(context.Context) (map[string]http.Handler, error)
}

// HealthChecker reports a VM's health.
type HealthChecker interface {
	HealthCheck(context.Context) (interface{}, error)
}

// RegisterChain mounts the VM's handlers under bc/<chainID> and aliases them
// under bc/<chainName>.
func RegisterChain(
	ctx context.Context,
	logger log.Logger,
	adder server.PathAdder,
	chainName string,
	chainID ids.ID,
	vm HandlerProvider,
) error {
	handlers, err := vm.CreateHandlers(ctx)
	if err != nil {
		return fmt.Errorf("failed to create handlers for %s: %w", chainName, err)
	}

	defaultEndpoint := path.Join(ChainAliasPrefix, chainID.String())
	for extension, handler := range handlers {
		// e.g. "/foo" and "" are ok but "\n" is not
		if _, err := url.ParseRequestURI(extension); extension != "" && err != nil {
			logger.Error("could not add route to chain's API handler",
				log.String("reason", "route is malformed"),
				log.String("chainName", chainName),
				log.Err(err),
			)
			continue
		}
		if err := adder.AddRoute(handler, defaultEndpoint, extension); err != nil {
			return err
		}
	}
	if chainName == "" {
		return nil
	}
	return adder.AddAliases(defaultEndpoint, path.Join(ChainAliasPrefix, chainName))
}

// HealthHandler serves the VM's health check as JSON, with 503 if it fails.
func HealthHandler(vm HealthChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		details, err := vm.HealthCheck(r.Context())
		status := http.StatusOK
		body := map[string]interface{}{
			"healthy": err == nil,
			"checks":  details,
		}
		if err != nil {
			status = http.StatusServiceUnavailable
			body["error"] = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
}
