package models

import (
	"time"

	"github.com/google/uuid"
)

// FaceMatch attributes one detected face to a registered student.
type FaceMatch struct {
	Index     int       `json:"index"`
	StudentID uuid.UUID `json:"student_id"`
	Distance  float64   `json:"distance"`
}

// UnknownFace is a detected face no registered student matched.
// BestDistance is the closest candidate seen; nil when there was no
// comparable candidate at all.
type UnknownFace struct {
	Index        int      `json:"index"`
	BestDistance *float64 `json:"best_distance"`
}

type AttendanceRecord struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	SessionID uuid.UUID     `json:"session_id" db:"session_id"`
	ClassID   string        `json:"class_id" db:"class_id"`
	TakenAt   time.Time     `json:"taken_at" db:"taken_at"`
	Present   []uuid.UUID   `json:"present_students" db:"present_students"`
	Absent    []uuid.UUID   `json:"absent_students" db:"absent_students"`
	Unknown   []UnknownFace `json:"unknown_faces" db:"unknown_faces"`
	Matches   []FaceMatch   `json:"matches" db:"matches"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}
