package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/your-org/rollcall/internal/detector"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/notify"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/pkg/dto"
)

func newSessionTest(t *testing.T) (pgxmock.PgxPoolIface, *SessionHandler, *notify.Notifier) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	db := storage.NewPostgresStoreWithPool(mock)
	notifier := notify.NewNotifier()
	det := detector.NewClient(detector.Config{}) // disabled
	return mock, NewSessionHandler(db, nil, notifier, det), notifier
}

func sessionRouter(h *SessionHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/attendance/sessions", h.Create)
	r.GET("/v1/attendance/sessions/:id", h.Get)
	r.GET("/v1/attendance/sessions/:id/wait", h.Wait)
	return r
}

func sessionRows(id uuid.UUID, status models.SessionStatus) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows([]string{"id", "class_id", "photo_key", "status", "error_message", "taken_at", "created_at", "updated_at"}).
		AddRow(id, "7b", "", status, "", now, now, now)
}

func TestCreateSessionValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "neither photo nor descriptors",
			body:       `{"class_id": "7b"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "both photo and descriptors",
			body:       `{"class_id": "7b", "photo_key": "sessions/x.jpg", "descriptors": []}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "class id unfit for a subject token",
			body:       `{"class_id": "7 b!", "descriptors": []}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "photo submission without a detector",
			body:       `{"class_id": "7b", "photo_key": "sessions/x.jpg"}`,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, h, _ := newSessionTest(t)
			r := sessionRouter(h)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/attendance/sessions", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWaitResolvedByResult(t *testing.T) {
	mock, h, notifier := newSessionTest(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT id, class_id, photo_key`).
		WithArgs(id).
		WillReturnRows(sessionRows(id, models.SessionStatusProcessing))

	recordID := uuid.New()
	go func() {
		time.Sleep(20 * time.Millisecond)
		notifier.Resolve(&models.AnalysisResult{
			SessionID:    id,
			ClassID:      "7b",
			Status:       models.SessionStatusCompleted,
			RecordID:     &recordID,
			PresentCount: 2,
			AbsentCount:  1,
		})
	}()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/attendance/sessions/"+id.String()+"/wait", nil)
	sessionRouter(h).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.WaitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, string(models.SessionStatusCompleted), resp.Status)
	require.False(t, resp.TimedOut)
	require.Equal(t, 2, resp.PresentCount)
	require.Equal(t, 1, resp.AbsentCount)
	require.NotNil(t, resp.RecordID)
	require.Equal(t, recordID, *resp.RecordID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitTimesOut(t *testing.T) {
	mock, h, _ := newSessionTest(t)
	id := uuid.New()

	// Initial read plus the single re-read after the timeout.
	mock.ExpectQuery(`SELECT id, class_id, photo_key`).
		WithArgs(id).
		WillReturnRows(sessionRows(id, models.SessionStatusProcessing))
	mock.ExpectQuery(`SELECT id, class_id, photo_key`).
		WithArgs(id).
		WillReturnRows(sessionRows(id, models.SessionStatusProcessing))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/attendance/sessions/"+id.String()+"/wait?timeout=30ms", nil)
	sessionRouter(h).ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp dto.WaitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.TimedOut)
	require.Equal(t, string(models.SessionStatusProcessing), resp.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitSettledSessionAnswersImmediately(t *testing.T) {
	mock, h, _ := newSessionTest(t)
	id := uuid.New()
	recordID := uuid.New()
	s1 := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, class_id, photo_key`).
		WithArgs(id).
		WillReturnRows(sessionRows(id, models.SessionStatusCompleted))
	mock.ExpectQuery(`FROM attendance_records WHERE session_id`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "session_id", "class_id", "taken_at",
			"present_students", "absent_students", "unknown_faces", "matches", "created_at",
		}).AddRow(
			recordID, id, "7b", now,
			[]uuid.UUID{s1}, []uuid.UUID{},
			[]models.UnknownFace{}, []models.FaceMatch{{Index: 0, StudentID: s1, Distance: 0.2}}, now,
		))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/attendance/sessions/"+id.String()+"/wait", nil)
	sessionRouter(h).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.WaitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, string(models.SessionStatusCompleted), resp.Status)
	require.Equal(t, 1, resp.PresentCount)
	require.Equal(t, recordID, *resp.RecordID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitUnknownSession(t *testing.T) {
	mock, h, _ := newSessionTest(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT id, class_id, photo_key`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/attendance/sessions/"+id.String()+"/wait", nil)
	sessionRouter(h).ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionWithRecord(t *testing.T) {
	mock, h, _ := newSessionTest(t)
	id := uuid.New()
	recordID := uuid.New()
	s1 := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, class_id, photo_key`).
		WithArgs(id).
		WillReturnRows(sessionRows(id, models.SessionStatusCompleted))
	mock.ExpectQuery(`FROM attendance_records WHERE session_id`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "session_id", "class_id", "taken_at",
			"present_students", "absent_students", "unknown_faces", "matches", "created_at",
		}).AddRow(
			recordID, id, "7b", now,
			[]uuid.UUID{s1}, []uuid.UUID{},
			[]models.UnknownFace{}, []models.FaceMatch{}, now,
		))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/attendance/sessions/"+id.String(), nil)
	sessionRouter(h).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, string(models.SessionStatusCompleted), resp.Status)
	require.NotNil(t, resp.Record)
	require.Equal(t, []uuid.UUID{s1}, resp.Record.Present)
	require.NoError(t, mock.ExpectationsWereMet())
}
