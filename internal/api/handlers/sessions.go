package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/detector"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/notify"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/pkg/dto"
)

const (
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 2 * time.Minute
)

type SessionHandler struct {
	db       *storage.PostgresStore
	producer *queue.Producer
	notifier *notify.Notifier
	det      *detector.Client
}

func NewSessionHandler(db *storage.PostgresStore, producer *queue.Producer, notifier *notify.Notifier, det *detector.Client) *SessionHandler {
	return &SessionHandler{db: db, producer: producer, notifier: notifier, det: det}
}

// Create accepts an attendance submission and queues its analysis.
func (h *SessionHandler) Create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !classIDPattern.MatchString(req.ClassID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid class_id"})
		return
	}
	// An explicit empty descriptor list is a valid zero-face
	// submission, so presence is what matters here, not length.
	if (req.PhotoKey != "") == (req.Descriptors != nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of photo_key and descriptors is required"})
		return
	}
	if req.PhotoKey != "" && !h.det.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face detector not configured"})
		return
	}

	takenAt := time.Now()
	if req.TakenAt != nil {
		takenAt = *req.TakenAt
	}

	sess, err := h.db.CreateSession(c.Request.Context(), req.ClassID, req.PhotoKey, takenAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	task := &models.AnalysisTask{
		SessionID:   sess.ID,
		ClassID:     sess.ClassID,
		PhotoKey:    req.PhotoKey,
		Descriptors: req.Descriptors,
		TakenAt:     takenAt,
	}
	if err := h.producer.PublishTask(c.Request.Context(), task); err != nil {
		slog.Error("publish analysis task", "session_id", sess.ID, "error", err)
		_ = h.db.FailSession(c.Request.Context(), sess.ID, "enqueue analysis task failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue analysis task"})
		return
	}

	c.JSON(http.StatusAccepted, sessionResponse(sess, nil))
}

func (h *SessionHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	sess, err := h.db.GetSession(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	var record *dto.RecordResponse
	if sess.Status == models.SessionStatusCompleted {
		rec, err := h.db.GetRecordBySession(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if rec != nil {
			r := recordResponse(rec)
			record = &r
		}
	}

	c.JSON(http.StatusOK, sessionResponse(sess, record))
}

// Wait blocks until the session's analysis finishes or the timeout
// elapses. A timeout answers 202: the outcome is indeterminate, not
// failed.
func (h *SessionHandler) Wait(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	timeout := defaultWaitTimeout
	if q := c.Query("timeout"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout"})
			return
		}
		timeout = d
	}
	if timeout > maxWaitTimeout {
		timeout = maxWaitTimeout
	}

	// Register before reading the session, so a result landing between
	// the two is caught by the waiter instead of lost.
	w := h.notifier.Register(id)
	defer w.Close()

	sess, err := h.db.GetSession(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if sess.Status.Terminal() {
		h.answerFromSession(c, sess, false)
		return
	}

	select {
	case result := <-w.C:
		c.JSON(http.StatusOK, dto.WaitResponse{
			SessionID:    result.SessionID,
			Status:       string(result.Status),
			RecordID:     result.RecordID,
			PresentCount: result.PresentCount,
			AbsentCount:  result.AbsentCount,
			UnknownCount: result.UnknownCount,
			ErrorMessage: result.ErrorMessage,
		})
	case <-time.After(timeout):
		// One re-read closes the gap where the result was published
		// before this process subscribed to it.
		sess, err := h.db.GetSession(c.Request.Context(), id)
		if err == nil && sess != nil && sess.Status.Terminal() {
			h.answerFromSession(c, sess, false)
			return
		}
		h.answerTimedOut(c, id, sess)
	case <-c.Request.Context().Done():
	}
}

func (h *SessionHandler) answerFromSession(c *gin.Context, sess *models.AttendanceSession, timedOut bool) {
	resp := dto.WaitResponse{
		SessionID:    sess.ID,
		Status:       string(sess.Status),
		TimedOut:     timedOut,
		ErrorMessage: sess.ErrorMessage,
	}
	if sess.Status == models.SessionStatusCompleted {
		rec, err := h.db.GetRecordBySession(c.Request.Context(), sess.ID)
		if err == nil && rec != nil {
			resp.RecordID = &rec.ID
			resp.PresentCount = len(rec.Present)
			resp.AbsentCount = len(rec.Absent)
			resp.UnknownCount = len(rec.Unknown)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) answerTimedOut(c *gin.Context, id uuid.UUID, sess *models.AttendanceSession) {
	status := string(models.SessionStatusProcessing)
	if sess != nil {
		status = string(sess.Status)
	}
	c.JSON(http.StatusAccepted, dto.WaitResponse{
		SessionID: id,
		Status:    status,
		TimedOut:  true,
	})
}

func sessionResponse(sess *models.AttendanceSession, record *dto.RecordResponse) dto.SessionResponse {
	return dto.SessionResponse{
		ID:           sess.ID,
		ClassID:      sess.ClassID,
		PhotoKey:     sess.PhotoKey,
		Status:       string(sess.Status),
		ErrorMessage: sess.ErrorMessage,
		TakenAt:      sess.TakenAt.Format("2006-01-02T15:04:05Z"),
		CreatedAt:    sess.CreatedAt.Format("2006-01-02T15:04:05Z"),
		Record:       record,
	}
}
