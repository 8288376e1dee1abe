package wal

import (
	"time"

	"github.com/ChuLiYu/mechflow/pkg/types"
)

// ============================================================================
// WAL Type Definitions
// Responsibility: Define the journal records of the task ledger
// ============================================================================

// EventType defines WAL event types
type EventType string

const (
	EventReplace EventType = "REPLACE" // A new schedule replaced the current one
	EventToggle  EventType = "TOGGLE"  // A task's completion flag was flipped
)

// Event represents a WAL event record
//
// TOGGLE events carry the resulting state rather than "flip", so replaying
// the same event twice is harmless and never reads the clock.
type Event struct {
	Seq       uint64    `json:"seq"`       // Monotonically increasing, survives rotation
	Type      EventType `json:"type"`      // Event type
	Timestamp int64     `json:"timestamp"` // Unix millisecond timestamp

	// REPLACE
	Revision uint64                `json:"revision,omitempty"`
	Result   *types.ScheduleResult `json:"result,omitempty"`

	// TOGGLE
	TaskID      string     `json:"task_id,omitempty"`
	Completed   bool       `json:"completed,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Checksum uint32 `json:"checksum"` // CRC32 over the record with Checksum = 0
}

// ReplaceEvent builds a REPLACE record
func ReplaceEvent(revision uint64, result *types.ScheduleResult) Event {
	return Event{Type: EventReplace, Revision: revision, Result: result}
}

// ToggleEvent builds a TOGGLE record from the task's state after the flip
func ToggleEvent(task types.ScheduleTask) Event {
	return Event{
		Type:        EventToggle,
		TaskID:      task.TaskID,
		Completed:   task.Completed,
		CompletedAt: task.CompletedAt,
	}
}

// EventHandler is the function type for processing WAL events
// Used during Replay to apply events to system state; a non-nil error aborts the replay.
type EventHandler func(event Event) error

// Stats summarises a WAL file
type Stats struct {
	TotalEvents int               `json:"total_events"`
	EventTypes  map[EventType]int `json:"event_types"`
	FirstSeq    uint64            `json:"first_seq"`
	LastSeq     uint64            `json:"last_seq"`
	TimeRange   [2]int64          `json:"time_range"` // [earliest, latest] unix ms
}
