// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package events publishes committed VM state changes to subscribers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	vm "github.com/luxfi/computevm"
)

const DefaultSubject = "computevm"

var (
	_ vm.Publisher = (*NATS)(nil)
	_ vm.Publisher = Noop{}

	errNilMessage = errors.New("nil message")
)

// Envelope is the JSON body of every published message.
type Envelope struct {
	Type    string          `json:"type"`
	TaskID  uint64          `json:"taskID"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Encode builds the wire form of msg. Content must already be JSON.
func Encode(msg *vm.Message) ([]byte, error) {
	if msg == nil {
		return nil, errNilMessage
	}
	env := Envelope{
		Type:   msg.Type.String(),
		TaskID: msg.TaskID,
	}
	if len(msg.Content) > 0 {
		if !json.Valid(msg.Content) {
			return nil, fmt.Errorf("%s content for task %d is not JSON", msg.Type, msg.TaskID)
		}
		env.Content = msg.Content
	}
	return json.Marshal(env)
}

// Subject is where messages of type t are published under prefix.
func Subject(prefix string, t vm.MessageType) string {
	return prefix + "." + t.String()
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATS publishes core NATS messages. Delivery is at most once.
type NATS struct {
	conn    conn
	subject string
	log     log.Logger
}

func Connect(url, subject string, logger log.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("computevm"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return newNATS(nc, subject, logger), nil
}

func newNATS(c conn, subject string, logger log.Logger) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{
		conn:    c,
		subject: subject,
		log:     logger,
	}
}

func (p *NATS) Publish(ctx context.Context, msg *vm.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	subject := Subject(p.subject, msg.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.log.Debug("event published",
		log.String("subject", subject),
		log.Uint64("taskID", msg.TaskID),
	)
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATS) Close() error {
	return p.conn.Drain()
}

// Noop drops every message.
type Noop struct{}

func (Noop) Publish(context.Context, *vm.Message) error {
	return nil
}
