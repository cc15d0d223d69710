package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Task asks a worker to recompute the score of one application.
type Task struct {
	ApplicationID int64 `json:"applicationId" mapstructure:"applicationId"`
	ApplicantID   int64 `json:"applicantId" mapstructure:"applicantId"`
	PostingID     int64 `json:"postingId" mapstructure:"postingId"`
}

// Handler processes a single task.
type Handler func(ctx context.Context, task Task) error

// Queue accepts rescoring tasks. Delivery guarantees depend on the implementation.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
}

// Nop drops every task. It is used when asynchronous rescoring is disabled.
type Nop struct{}

func (Nop) Enqueue(context.Context, Task) error { return nil }

func encode(task Task) ([]byte, error) {
	return json.Marshal(task)
}

// decode accepts payloads written by other producers, where ids may be strings.
func decode(payload []byte) (Task, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Task{}, fmt.Errorf("decode task payload: %w", err)
	}

	var task Task
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &task,
	})
	if err != nil {
		return Task{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Task{}, fmt.Errorf("decode task payload: %w", err)
	}

	if task.ApplicationID <= 0 || task.ApplicantID <= 0 || task.PostingID <= 0 {
		return Task{}, fmt.Errorf("task payload is missing ids: %s", payload)
	}

	return task, nil
}
