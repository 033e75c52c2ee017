package dto

import "github.com/google/uuid"

type CreateStudentRequest struct {
	StudentNo string `json:"student_no" binding:"required"`
	FullName  string `json:"full_name" binding:"required"`
	ClassID   string `json:"class_id" binding:"required"`
}

type StudentResponse struct {
	ID             uuid.UUID `json:"id"`
	StudentNo      string    `json:"student_no"`
	FullName       string    `json:"full_name"`
	ClassID        string    `json:"class_id"`
	FaceRegistered bool      `json:"face_registered"`
	FaceCount      int       `json:"face_count"`
	CreatedAt      string    `json:"created_at"`
}

type StudentListResponse struct {
	Students []StudentResponse `json:"students"`
	Total    int               `json:"total"`
}

// RegisterFaceRequest carries exactly one of Embedding and ImageKey.
// An image key points at a photo already uploaded to the photo bucket;
// the detector service extracts the embedding from it.
type RegisterFaceRequest struct {
	Angle      string    `json:"angle" binding:"required,oneof=front left right tilt"`
	Embedding  []float32 `json:"embedding,omitempty"`
	ImageKey   string    `json:"image_key,omitempty"`
	Confidence float32   `json:"confidence,omitempty"`
}

type RegisteredFaceResponse struct {
	ID         uuid.UUID `json:"id"`
	StudentID  uuid.UUID `json:"student_id"`
	Angle      string    `json:"angle"`
	Confidence float32   `json:"confidence"`
	SourceKey  string    `json:"source_key,omitempty"`
	CreatedAt  string    `json:"created_at"`
}

type RegisteredFaceListResponse struct {
	Faces []RegisteredFaceResponse `json:"faces"`
	Total int                      `json:"total"`
}
