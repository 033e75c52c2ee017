package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/detector"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/pkg/dto"
)

// Class IDs end up as NATS subject tokens, so only plain identifiers
// are accepted.
var classIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type StudentHandler struct {
	db           *storage.PostgresStore
	photos       *storage.PhotoStore
	det          *detector.Client
	embeddingDim int
}

func NewStudentHandler(db *storage.PostgresStore, photos *storage.PhotoStore, det *detector.Client, embeddingDim int) *StudentHandler {
	return &StudentHandler{db: db, photos: photos, det: det, embeddingDim: embeddingDim}
}

func (h *StudentHandler) Create(c *gin.Context) {
	var req dto.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !classIDPattern.MatchString(req.ClassID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid class_id"})
		return
	}

	st, err := h.db.CreateStudent(c.Request.Context(), req.StudentNo, req.FullName, req.ClassID)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateStudent) {
			c.JSON(http.StatusConflict, gin.H{"error": "student number already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, studentResponse(st, 0))
}

func (h *StudentHandler) List(c *gin.Context) {
	students, err := h.db.ListStudents(c.Request.Context(), c.Query("class_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.StudentResponse, 0, len(students))
	for _, st := range students {
		count, _ := h.db.CountRegisteredFaces(c.Request.Context(), st.ID)
		resp = append(resp, studentResponse(&st, count))
	}

	c.JSON(http.StatusOK, dto.StudentListResponse{Students: resp, Total: len(resp)})
}

func (h *StudentHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	st, err := h.db.GetStudent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}

	count, _ := h.db.CountRegisteredFaces(c.Request.Context(), id)
	c.JSON(http.StatusOK, studentResponse(st, count))
}

// Delete removes the student, their registered faces (by cascade) and
// their stored registration shots.
func (h *StudentHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	st, err := h.db.GetStudent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}

	faces, err := h.db.ListRegisteredFaces(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.DeleteStudent(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	keys := make([]string, 0, len(faces))
	for _, f := range faces {
		if f.SourceKey != "" {
			keys = append(keys, f.SourceKey)
		}
	}
	if len(keys) > 0 {
		if err := h.photos.DeleteObjects(c.Request.Context(), keys); err != nil {
			slog.Warn("delete face photos", "student_id", id, "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// RegisterFace stores a face sample from a raw embedding or from an
// image already uploaded to the photo bucket.
func (h *StudentHandler) RegisterFace(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	st, err := h.db.GetStudent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}

	var req dto.RegisterFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (len(req.Embedding) > 0) == (req.ImageKey != "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of embedding and image_key is required"})
		return
	}

	embedding := req.Embedding
	confidence := req.Confidence
	if req.ImageKey != "" {
		embedding, confidence, err = h.embedFromImage(c, req.ImageKey)
		if err != nil {
			return // embedFromImage already answered
		}
	}

	if h.embeddingDim > 0 && len(embedding) != h.embeddingDim {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "embedding dimension mismatch",
		})
		return
	}

	f, err := h.db.AddRegisteredFace(c.Request.Context(), id, models.FaceAngle(req.Angle), embedding, confidence, req.ImageKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.RegisteredFaceResponse{
		ID:         f.ID,
		StudentID:  f.StudentID,
		Angle:      string(f.Angle),
		Confidence: f.Confidence,
		SourceKey:  f.SourceKey,
		CreatedAt:  f.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

// embedFromImage loads a registration shot and extracts the best face.
// On failure it writes the HTTP error itself and returns a non-nil err.
func (h *StudentHandler) embedFromImage(c *gin.Context, imageKey string) ([]float32, float32, error) {
	if !h.det.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face detector not configured"})
		return nil, 0, errors.New("detector disabled")
	}

	image, err := h.photos.GetObject(c.Request.Context(), imageKey)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "load image: " + err.Error()})
		return nil, 0, err
	}

	detections, err := h.det.Detect(c.Request.Context(), image)
	if err != nil {
		switch {
		case errors.Is(err, detector.ErrNotReady):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face detector not ready"})
		case errors.Is(err, detector.ErrUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{"error": "face detector unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, 0, err
	}
	if len(detections) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected in image"})
		return nil, 0, errors.New("no face detected")
	}

	// Use the highest confidence detection
	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best.Embedding, best.Confidence, nil
}

func (h *StudentHandler) ListFaces(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid student id"})
		return
	}

	faces, err := h.db.ListRegisteredFaces(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.RegisteredFaceResponse, 0, len(faces))
	for _, f := range faces {
		resp = append(resp, dto.RegisteredFaceResponse{
			ID:         f.ID,
			StudentID:  f.StudentID,
			Angle:      string(f.Angle),
			Confidence: f.Confidence,
			SourceKey:  f.SourceKey,
			CreatedAt:  f.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	c.JSON(http.StatusOK, dto.RegisteredFaceListResponse{Faces: resp, Total: len(resp)})
}

// Roster lists a class's students with their registration state.
func (h *StudentHandler) Roster(c *gin.Context) {
	classID := c.Param("classId")
	students, err := h.db.ListStudents(c.Request.Context(), classID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.StudentResponse, 0, len(students))
	for _, st := range students {
		count, _ := h.db.CountRegisteredFaces(c.Request.Context(), st.ID)
		resp = append(resp, studentResponse(&st, count))
	}

	c.JSON(http.StatusOK, dto.StudentListResponse{Students: resp, Total: len(resp)})
}

func studentResponse(st *models.Student, faceCount int) dto.StudentResponse {
	return dto.StudentResponse{
		ID:             st.ID,
		StudentNo:      st.StudentNo,
		FullName:       st.FullName,
		ClassID:        st.ClassID,
		FaceRegistered: st.FaceRegistered,
		FaceCount:      faceCount,
		CreatedAt:      st.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}
