package dto

import (
	"time"

	"github.com/google/uuid"
)

// CreateSessionRequest carries exactly one of PhotoKey and Descriptors.
// An explicit empty descriptor list is a valid zero-face submission.
type CreateSessionRequest struct {
	ClassID     string      `json:"class_id" binding:"required"`
	TakenAt     *time.Time  `json:"taken_at,omitempty"`
	PhotoKey    string      `json:"photo_key,omitempty"`
	Descriptors [][]float32 `json:"descriptors,omitempty"`
}

type SessionResponse struct {
	ID           uuid.UUID       `json:"id"`
	ClassID      string          `json:"class_id"`
	PhotoKey     string          `json:"photo_key,omitempty"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	TakenAt      string          `json:"taken_at"`
	CreatedAt    string          `json:"created_at"`
	Record       *RecordResponse `json:"record,omitempty"`
}

type FaceMatch struct {
	Index     int       `json:"index"`
	StudentID uuid.UUID `json:"student_id"`
	Distance  float64   `json:"distance"`
}

type UnknownFace struct {
	Index        int      `json:"index"`
	BestDistance *float64 `json:"best_distance"`
}

type RecordResponse struct {
	ID        uuid.UUID     `json:"id"`
	SessionID uuid.UUID     `json:"session_id"`
	ClassID   string        `json:"class_id"`
	TakenAt   string        `json:"taken_at"`
	Present   []uuid.UUID   `json:"present_students"`
	Absent    []uuid.UUID   `json:"absent_students"`
	Unknown   []UnknownFace `json:"unknown_faces"`
	Matches   []FaceMatch   `json:"matches"`
	CreatedAt string        `json:"created_at"`
}

type RecordListResponse struct {
	Records []RecordResponse `json:"records"`
	Total   int              `json:"total"`
}

type RecordQuery struct {
	ClassID string `form:"class_id"`
	From    string `form:"from"`
	To      string `form:"to"`
	Limit   int    `form:"limit"`
	Offset  int    `form:"offset"`
}

// WaitResponse answers the bounded wait endpoint. TimedOut marks an
// indeterminate outcome: the session is still being analyzed.
type WaitResponse struct {
	SessionID    uuid.UUID  `json:"session_id"`
	Status       string     `json:"status"`
	TimedOut     bool       `json:"timed_out,omitempty"`
	RecordID     *uuid.UUID `json:"record_id,omitempty"`
	PresentCount int        `json:"present_count"`
	AbsentCount  int        `json:"absent_count"`
	UnknownCount int        `json:"unknown_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// WSEvent is a WebSocket message for real-time attendance updates.
type WSEvent struct {
	Type    string       `json:"type"` // attendance_completed, attendance_failed
	ClassID string       `json:"class_id"`
	Data    WaitResponse `json:"data"`
}
