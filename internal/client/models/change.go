package models

import (
	"fmt"

	"github.com/dmitrijs2005/estisync/internal/common"
)

// Operation is the kind of a queued mutation.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether o is one of the known operations.
func (o Operation) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ParseOperation validates s as an Operation.
func ParseOperation(s string) (Operation, error) {
	o := Operation(s)
	if !o.Valid() {
		return "", fmt.Errorf("%w: %q", common.ErrInvalidOperation, s)
	}
	return o, nil
}

// Change is one entry of the sync queue.
type Change struct {
	// Seq orders entries; it is assigned by the queue on enqueue.
	Seq       int64
	Table     string
	Operation Operation
	// Payload is the full row as it must land remotely. For deletes it is
	// the tombstone.
	Payload    Row
	Attempts   int
	EnqueuedAt string
}
