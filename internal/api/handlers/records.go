package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/pkg/dto"
)

type RecordHandler struct {
	db *storage.PostgresStore
}

func NewRecordHandler(db *storage.PostgresStore) *RecordHandler {
	return &RecordHandler{db: db}
}

// List pages through a class's attendance history.
func (h *RecordHandler) List(c *gin.Context) {
	var q dto.RecordQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.ClassID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "class_id is required"})
		return
	}

	var from, to *time.Time
	if q.From != "" {
		t, err := time.Parse(time.RFC3339, q.From)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		from = &t
	}
	if q.To != "" {
		t, err := time.Parse(time.RFC3339, q.To)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		to = &t
	}

	records, total, err := h.db.ListRecords(c.Request.Context(), q.ClassID, from, to, q.Limit, q.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.RecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, recordResponse(&rec))
	}

	c.JSON(http.StatusOK, dto.RecordListResponse{Records: resp, Total: total})
}

func recordResponse(rec *models.AttendanceRecord) dto.RecordResponse {
	unknown := make([]dto.UnknownFace, 0, len(rec.Unknown))
	for _, u := range rec.Unknown {
		unknown = append(unknown, dto.UnknownFace{Index: u.Index, BestDistance: u.BestDistance})
	}
	matches := make([]dto.FaceMatch, 0, len(rec.Matches))
	for _, m := range rec.Matches {
		matches = append(matches, dto.FaceMatch{Index: m.Index, StudentID: m.StudentID, Distance: m.Distance})
	}

	return dto.RecordResponse{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		ClassID:   rec.ClassID,
		TakenAt:   rec.TakenAt.Format("2006-01-02T15:04:05Z"),
		Present:   rec.Present,
		Absent:    rec.Absent,
		Unknown:   unknown,
		Matches:   matches,
		CreatedAt: rec.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}
