package scheduler

import (
	"fmt"
	"time"

	"github.com/rileyhilliard/proxymon/internal/errors"
)

// State of a collection task.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Status is a snapshot of one task.
type Status struct {
	TaskID        string           `json:"task_id"`
	CycleID       string           `json:"cycle_id,omitempty"`
	State         State            `json:"state"`
	Running       bool             `json:"running"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	LastRunAt     *time.Time       `json:"last_run_at,omitempty"`
	Interval      int              `json:"interval"`
	RetentionDays int              `json:"retention_days"`
	TargetIDs     []int64          `json:"proxy_ids,omitempty"`
	LastErrors    map[int64]string `json:"last_errors,omitempty"`
	Cycles        int              `json:"cycles"`
	Overruns      int              `json:"overruns"`
}

// ConflictError is returned by Start when the task is already active. It
// carries the running task's status.
type ConflictError struct {
	Status Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("task %s is already %s", e.Status.TaskID, e.Status.State)
}

// Unwrap exposes the CONFLICT code to errors.IsCode.
func (e *ConflictError) Unwrap() error {
	return errors.New(errors.ErrConflict, e.Error(), "Stop the task before starting it again")
}
