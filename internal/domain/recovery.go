package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecoveryObjectType selects which saga's recovery data a RecoveryLogEntry
// carries, and therefore which Recoverer the sweeper dispatches to.
type RecoveryObjectType uint8

const (
	RecoveryNodeDelete RecoveryObjectType = iota
	RecoveryReorder
	RecoveryMerge
)

func (t RecoveryObjectType) String() string {
	switch t {
	case RecoveryNodeDelete:
		return "node_delete"
	case RecoveryReorder:
		return "reorder"
	case RecoveryMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// RecoveryLogEntry is a durable checkpoint that lets a saga survive process
// death at any point. Unique by (BranchID, ObjectType, ID). Data is an
// opaque, versioned snapshot of the saga state sufficient to resume: new
// fields in a newer build must be optional and unknown fields ignored on
// decode, so an older sweeper can still recover a newer entry.
type RecoveryLogEntry struct {
	BranchID   uuid.UUID
	ObjectType RecoveryObjectType
	ID         uuid.UUID
	Step       uint8
	Data       []byte
	UpdatedAt  time.Time
}
