// Package task relays call operations to the gateway instance that owns the call.
package task

import (
	"context"
)

// TaskType defines the operation carried by a task
type TaskType string

const (
	TaskTypeHangup TaskType = "hangup" // Operator hang-up received by an instance that does not hold the call
)

// CallTask is addressed to the instance holding the call
type CallTask struct {
	Type      TaskType `json:"type"`
	CallSid   string   `json:"call_sid"`
	TargetPod string   `json:"target_pod"`
	SourcePod string   `json:"source_pod"`
}

// Bus defines the interface for the task bus
type Bus interface {
	Publish(ctx context.Context, task CallTask) error
	Subscribe(ctx context.Context, handler func(CallTask)) error
}
