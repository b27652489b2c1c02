// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration types for the compute VM.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidWorkerBounds   = errors.New("invalid worker bounds")
	ErrInvalidLengthLimit    = errors.New("invalid length limit")
	ErrInvalidRemainderRule  = errors.New("invalid remainder policy")
	ErrInvalidListPageLength = errors.New("invalid list page length")
)

// RemainderPolicy decides who receives reward mod winners when a reward does
// not split evenly among the winning workers.
type RemainderPolicy string

const (
	// RemainderToCreator returns the remainder to the task creator.
	RemainderToCreator RemainderPolicy = "creator"
	// RemainderToFirstWinner pays the remainder to the earliest winning
	// worker.
	RemainderToFirstWinner RemainderPolicy = "first-winner"
	// RemainderBurn leaves the remainder in the escrow account.
	RemainderBurn RemainderPolicy = "burn"
)

func (p RemainderPolicy) Valid() bool {
	switch p {
	case RemainderToCreator, RemainderToFirstWinner, RemainderBurn:
		return true
	default:
		return false
	}
}

// Config contains configuration parameters for the compute VM.
type Config struct {
	// MinWorkers is the smallest worker quota a task may be posted with.
	MinWorkers uint32 `json:"minWorkers" yaml:"min_workers"`
	// MaxWorkers bounds the worker quota so a single finalization stays
	// cheap.
	MaxWorkers uint32 `json:"maxWorkers" yaml:"max_workers"`

	// MaxURILength bounds each work descriptor reference.
	MaxURILength int `json:"maxURILength" yaml:"max_uri_length"`
	// MaxHashLength bounds a submitted result hash.
	MaxHashLength int `json:"maxHashLength" yaml:"max_hash_length"`

	RemainderPolicy RemainderPolicy `json:"remainderPolicy" yaml:"remainder_policy"`

	// MaxListLength caps the page size of task listings.
	MaxListLength int `json:"maxListLength" yaml:"max_list_length"`
}

// DefaultConfig returns the default configuration for the compute VM.
func DefaultConfig() Config {
	return Config{
		MinWorkers:      1,
		MaxWorkers:      1024,
		MaxURILength:    2048,
		MaxHashLength:   128,
		RemainderPolicy: RemainderToCreator,
		MaxListLength:   1024,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MinWorkers == 0 || c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("%w: min %d, max %d", ErrInvalidWorkerBounds, c.MinWorkers, c.MaxWorkers)
	}
	if c.MaxURILength <= 0 || c.MaxHashLength <= 0 {
		return ErrInvalidLengthLimit
	}
	if !c.RemainderPolicy.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRemainderRule, c.RemainderPolicy)
	}
	if c.MaxListLength <= 0 {
		return ErrInvalidListPageLength
	}
	return nil
}

// ParseConfig parses configuration from JSON bytes. Fields missing from
// data keep their default values.
func ParseConfig(data []byte) (Config, error) {
	return Overlay(DefaultConfig(), data)
}

// Overlay applies the fields present in data on top of base.
func Overlay(base Config, data []byte) (Config, error) {
	cfg := base
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return cfg, cfg.Validate()
}
