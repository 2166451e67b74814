package task

import "errors"

var (
	// ErrStatusConflict is returned when a conditional status update finds
	// the task already moved past the expected status. The losing writer's
	// work is discarded without side effects.
	ErrStatusConflict = errors.New("task status changed by another writer")

	// ErrTaskNotFound is returned when an operation targets a task id that
	// does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateSKU is returned when inserting a task whose SKU already
	// has a record.
	ErrDuplicateSKU = errors.New("task already exists for sku")

	// ErrTaskInProgress is returned when a mutation is only valid before
	// processing starts but the task has already advanced.
	ErrTaskInProgress = errors.New("task already in progress")
)
