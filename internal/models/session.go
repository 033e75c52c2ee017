package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// Terminal reports whether no further transition can leave the status.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

type AttendanceSession struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	ClassID      string        `json:"class_id" db:"class_id"`
	PhotoKey     string        `json:"photo_key,omitempty" db:"photo_key"`
	Status       SessionStatus `json:"status" db:"status"`
	ErrorMessage string        `json:"error_message,omitempty" db:"error_message"`
	TakenAt      time.Time     `json:"taken_at" db:"taken_at"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// AnalysisTask is the message published to NATS for worker processing.
// Exactly one of PhotoKey and Descriptors is set: either the worker
// fetches the photo and asks the detector for descriptors, or the
// caller supplied pre-computed descriptors directly.
type AnalysisTask struct {
	SessionID   uuid.UUID   `json:"session_id"`
	ClassID     string      `json:"class_id"`
	PhotoKey    string      `json:"photo_key,omitempty"`
	Descriptors [][]float32 `json:"descriptors"`
	TakenAt     time.Time   `json:"taken_at"`
}

// AnalysisResult is published once a session reaches a terminal status.
type AnalysisResult struct {
	SessionID    uuid.UUID     `json:"session_id"`
	ClassID      string        `json:"class_id"`
	Status       SessionStatus `json:"status"`
	RecordID     *uuid.UUID    `json:"record_id,omitempty"`
	PresentCount int           `json:"present_count"`
	AbsentCount  int           `json:"absent_count"`
	UnknownCount int           `json:"unknown_count"`
	ErrorMessage string        `json:"error_message,omitempty"`
}
