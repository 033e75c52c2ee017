package models

import (
	"time"

	"github.com/google/uuid"
)

type FaceAngle string

const (
	AngleFront FaceAngle = "front"
	AngleLeft  FaceAngle = "left"
	AngleRight FaceAngle = "right"
	AngleTilt  FaceAngle = "tilt"
)

type Student struct {
	ID             uuid.UUID `json:"id" db:"id"`
	StudentNo      string    `json:"student_no" db:"student_no"`
	FullName       string    `json:"full_name" db:"full_name"`
	ClassID        string    `json:"class_id" db:"class_id"`
	FaceRegistered bool      `json:"face_registered" db:"face_registered"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// RegisteredFace is one stored face sample for a student. Rows are
// immutable; re-registration inserts a new row for the same angle.
type RegisteredFace struct {
	ID         uuid.UUID `json:"id" db:"id"`
	StudentID  uuid.UUID `json:"student_id" db:"student_id"`
	Angle      FaceAngle `json:"angle" db:"angle"`
	Embedding  []float32 `json:"-" db:"embedding"`
	Confidence float32   `json:"confidence" db:"confidence"`
	SourceKey  string    `json:"source_key,omitempty" db:"source_key"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
