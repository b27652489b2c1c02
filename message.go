// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vm

import "context"

// Message signals a committed state change from the VM to its subscribers
type Message struct {
	Type    MessageType
	TaskID  uint64
	Content []byte
}

// MessageType identifies the message kind
type MessageType uint32

const (
	// TaskPosted indicates a new task was created and its reward escrowed
	TaskPosted MessageType = iota
	// ResultSubmitted indicates a worker's vote was recorded
	ResultSubmitted
	// TaskFinalized indicates a task reached a terminal status and its
	// funds were paid out or refunded
	TaskFinalized
)

// String returns the string representation of the message type
func (m MessageType) String() string {
	switch m {
	case TaskPosted:
		return "taskPosted"
	case ResultSubmitted:
		return "resultSubmitted"
	case TaskFinalized:
		return "taskFinalized"
	default:
		return "unknown"
	}
}

// Publisher delivers messages to subscribers outside the VM.
type Publisher interface {
	Publish(context.Context, *Message) error
}
