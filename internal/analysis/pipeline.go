// Package analysis turns a queued attendance task into a stored
// attendance record.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/detector"
	"github.com/your-org/rollcall/internal/match"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
)

// Store is the storage surface the pipeline needs.
type Store interface {
	ClaimSession(ctx context.Context, id uuid.UUID) (bool, error)
	EmbeddingsByClass(ctx context.Context, classID string) (match.Gallery, error)
	RosterIDs(ctx context.Context, classID string) ([]uuid.UUID, error)
	CompleteSession(ctx context.Context, record *models.AttendanceRecord) error
	FailSession(ctx context.Context, id uuid.UUID, message string) error
}

// PhotoFetcher loads uploaded class photos.
type PhotoFetcher interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// FaceDetector extracts face embeddings from a photo.
type FaceDetector interface {
	Enabled() bool
	Detect(ctx context.Context, image []byte) ([]detector.Detection, error)
}

// ResultPublisher emits analysis outcomes for API-side listeners.
type ResultPublisher interface {
	PublishResult(ctx context.Context, result *models.AnalysisResult) error
}

// Pipeline orchestrates one attendance analysis:
// claim → descriptors → gallery → match → reconcile → persist → publish.
type Pipeline struct {
	db       Store
	photos   PhotoFetcher
	det      FaceDetector
	matcher  *match.Matcher
	producer ResultPublisher
}

func NewPipeline(db Store, photos PhotoFetcher, det FaceDetector, matcher *match.Matcher, producer ResultPublisher) *Pipeline {
	return &Pipeline{
		db:       db,
		photos:   photos,
		det:      det,
		matcher:  matcher,
		producer: producer,
	}
}

// ProcessTask handles one analysis task. A nil return means the task is
// settled (completed, failed, or already handled) and must be acked; an
// error requests redelivery.
func (p *Pipeline) ProcessTask(ctx context.Context, task models.AnalysisTask) error {
	// 1. Claim the session. A false claim means another run already
	// settled it, so the redelivered task is dropped.
	claimed, err := p.db.ClaimSession(ctx, task.SessionID)
	if err != nil {
		return fmt.Errorf("claim session: %w", err)
	}
	if !claimed {
		slog.Info("session already settled, skipping", "session_id", task.SessionID)
		return nil
	}

	// 2. Obtain face descriptors, from the photo or from the task.
	faces, err := p.descriptors(ctx, task)
	if err != nil {
		return p.fail(ctx, task, "extract face descriptors: "+err.Error(), err)
	}
	observability.FacesDetected.WithLabelValues(task.ClassID).Add(float64(len(faces)))

	// 3. Load the class gallery and roster.
	start := time.Now()
	gallery, err := p.db.EmbeddingsByClass(ctx, task.ClassID)
	if err != nil {
		return p.fail(ctx, task, "load class gallery", err)
	}
	roster, err := p.db.RosterIDs(ctx, task.ClassID)
	if err != nil {
		return p.fail(ctx, task, "load class roster", err)
	}
	observability.AnalysisDuration.WithLabelValues("gallery").Observe(time.Since(start).Seconds())

	// 4. Match every face and reconcile against the roster.
	start = time.Now()
	outcomes := p.matcher.Match(faces, gallery)
	rec := match.Reconcile(roster, outcomes)
	observability.AnalysisDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())

	record := match.BuildRecord(task.SessionID, task.ClassID, task.TakenAt, rec)

	// 5. Persist record and session state in one transaction. On error
	// the claim guard lets a redelivery retry this step.
	if err := p.db.CompleteSession(ctx, &record); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	observability.SessionsProcessed.WithLabelValues("completed").Inc()
	observability.FacesMatched.WithLabelValues(task.ClassID).Add(float64(len(rec.Matches)))
	observability.FacesUnknown.WithLabelValues(task.ClassID).Add(float64(len(rec.Unknown)))

	// 6. Publish the outcome. The record is already stored, so a failed
	// publish only degrades waiters to fetching the session directly.
	result := &models.AnalysisResult{
		SessionID:    task.SessionID,
		ClassID:      task.ClassID,
		Status:       models.SessionStatusCompleted,
		RecordID:     &record.ID,
		PresentCount: len(rec.Present),
		AbsentCount:  len(rec.Absent),
		UnknownCount: len(rec.Unknown),
	}
	if err := p.producer.PublishResult(ctx, result); err != nil {
		slog.Error("publish result", "error", err, "session_id", task.SessionID)
	}

	slog.Info("session analyzed",
		"session_id", task.SessionID,
		"class_id", task.ClassID,
		"faces", len(faces),
		"present", len(rec.Present),
		"absent", len(rec.Absent),
		"unknown", len(rec.Unknown))
	return nil
}

// descriptors returns the detected faces for a task. A task carries
// either a photo key or ready-made descriptors; a session with neither
// simply has no faces.
func (p *Pipeline) descriptors(ctx context.Context, task models.AnalysisTask) ([]match.DetectedFace, error) {
	var embeddings [][]float32

	if task.PhotoKey != "" {
		if !p.det.Enabled() {
			return nil, fmt.Errorf("no face detector configured")
		}

		start := time.Now()
		photo, err := p.photos.GetObject(ctx, task.PhotoKey)
		if err != nil {
			return nil, fmt.Errorf("load photo: %w", err)
		}
		observability.AnalysisDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())

		start = time.Now()
		detections, err := p.det.Detect(ctx, photo)
		if err != nil {
			return nil, fmt.Errorf("detect faces: %w", err)
		}
		observability.AnalysisDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

		embeddings = make([][]float32, 0, len(detections))
		for _, d := range detections {
			embeddings = append(embeddings, d.Embedding)
		}
	} else {
		embeddings = task.Descriptors
	}

	faces := make([]match.DetectedFace, len(embeddings))
	for i, emb := range embeddings {
		faces[i] = match.DetectedFace{Index: i, Embedding: emb}
	}
	return faces, nil
}

// fail marks the session failed and notifies listeners. The returned
// nil acks the task; only a storage failure requests redelivery.
func (p *Pipeline) fail(ctx context.Context, task models.AnalysisTask, message string, cause error) error {
	slog.Error("analysis failed", "session_id", task.SessionID, "class_id", task.ClassID, "error", cause)

	if err := p.db.FailSession(ctx, task.SessionID, message); err != nil {
		return fmt.Errorf("fail session: %w", err)
	}
	observability.SessionsProcessed.WithLabelValues("failed").Inc()

	result := &models.AnalysisResult{
		SessionID:    task.SessionID,
		ClassID:      task.ClassID,
		Status:       models.SessionStatusFailed,
		ErrorMessage: message,
	}
	if err := p.producer.PublishResult(ctx, result); err != nil {
		slog.Error("publish result", "error", err, "session_id", task.SessionID)
	}
	return nil
}
