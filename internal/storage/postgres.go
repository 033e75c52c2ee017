package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/match"
	"github.com/your-org/rollcall/internal/models"
)

// ErrDuplicateStudent is returned when a student_no is already taken.
var ErrDuplicateStudent = errors.New("student number already exists")

// DB is the pgxpool.Pool surface the store depends on, compatible with
// pgxmock in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type PostgresStore struct {
	pool DB
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreWithPool wires an existing pool; tests pass pgxmock.
func NewPostgresStoreWithPool(pool DB) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Students ---

func (s *PostgresStore) CreateStudent(ctx context.Context, studentNo, fullName, classID string) (*models.Student, error) {
	st := &models.Student{
		ID:        uuid.New(),
		StudentNo: studentNo,
		FullName:  fullName,
		ClassID:   classID,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO students (id, student_no, full_name, class_id) VALUES ($1, $2, $3, $4) RETURNING face_registered, created_at, updated_at`,
		st.ID, st.StudentNo, st.FullName, st.ClassID,
	).Scan(&st.FaceRegistered, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateStudent
		}
		return nil, fmt.Errorf("create student: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) GetStudent(ctx context.Context, id uuid.UUID) (*models.Student, error) {
	st := &models.Student{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, student_no, full_name, class_id, face_registered, created_at, updated_at FROM students WHERE id = $1`, id,
	).Scan(&st.ID, &st.StudentNo, &st.FullName, &st.ClassID, &st.FaceRegistered, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return st, nil
}

// ListStudents returns students ordered by student number, optionally
// restricted to one class.
func (s *PostgresStore) ListStudents(ctx context.Context, classID string) ([]models.Student, error) {
	query := `SELECT id, student_no, full_name, class_id, face_registered, created_at, updated_at FROM students`
	var args []interface{}
	if classID != "" {
		query += ` WHERE class_id = $1`
		args = append(args, classID)
	}
	query += ` ORDER BY student_no`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		var st models.Student
		if err := rows.Scan(&st.ID, &st.StudentNo, &st.FullName, &st.ClassID, &st.FaceRegistered, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (s *PostgresStore) DeleteStudent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("student not found")
	}
	return nil
}

// --- Registered faces ---

// AddRegisteredFace stores a face sample and flips the student's
// face_registered flag in the same transaction.
func (s *PostgresStore) AddRegisteredFace(ctx context.Context, studentID uuid.UUID, angle models.FaceAngle, embedding []float32, confidence float32, sourceKey string) (*models.RegisteredFace, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	f := &models.RegisteredFace{
		ID:         uuid.New(),
		StudentID:  studentID,
		Angle:      angle,
		Embedding:  embedding,
		Confidence: confidence,
		SourceKey:  sourceKey,
	}
	vec := pgvector.NewVector(embedding)
	err = tx.QueryRow(ctx,
		`INSERT INTO registered_faces (id, student_id, angle, embedding, confidence, source_key) VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		f.ID, f.StudentID, f.Angle, vec, f.Confidence, f.SourceKey,
	).Scan(&f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add registered face: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE students SET face_registered = true, updated_at = now() WHERE id = $1`, studentID); err != nil {
		return nil, fmt.Errorf("mark face registered: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return f, nil
}

// ListRegisteredFaces returns a student's samples without the raw
// embeddings.
func (s *PostgresStore) ListRegisteredFaces(ctx context.Context, studentID uuid.UUID) ([]models.RegisteredFace, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, student_id, angle, confidence, source_key, created_at FROM registered_faces WHERE student_id = $1 ORDER BY created_at DESC`,
		studentID)
	if err != nil {
		return nil, fmt.Errorf("list registered faces: %w", err)
	}
	defer rows.Close()

	var faces []models.RegisteredFace
	for rows.Next() {
		var f models.RegisteredFace
		if err := rows.Scan(&f.ID, &f.StudentID, &f.Angle, &f.Confidence, &f.SourceKey, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan registered face: %w", err)
		}
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

func (s *PostgresStore) CountRegisteredFaces(ctx context.Context, studentID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM registered_faces WHERE student_id = $1`, studentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count registered faces: %w", err)
	}
	return count, nil
}

// --- Matching inputs ---

// RosterIDs returns the face-registered students of a class, ordered by
// student number.
func (s *PostgresStore) RosterIDs(ctx context.Context, classID string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM students WHERE class_id = $1 AND face_registered = true ORDER BY student_no`,
		classID)
	if err != nil {
		return nil, fmt.Errorf("roster ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan roster id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EmbeddingsByClass loads the registered embeddings of a class grouped
// per student. Rows are ordered by student number then registration
// time, so the resulting gallery has a stable candidate order and an
// empty class yields an empty gallery, not an error.
func (s *PostgresStore) EmbeddingsByClass(ctx context.Context, classID string) (match.Gallery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.id, rf.embedding
		 FROM students s
		 JOIN registered_faces rf ON rf.student_id = s.id
		 WHERE s.class_id = $1 AND s.face_registered = true
		 ORDER BY s.student_no, rf.created_at, rf.id`,
		classID)
	if err != nil {
		return nil, fmt.Errorf("embeddings by class: %w", err)
	}
	defer rows.Close()

	gallery := match.Gallery{}
	for rows.Next() {
		var (
			studentID uuid.UUID
			vec       pgvector.Vector
		)
		if err := rows.Scan(&studentID, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		if n := len(gallery); n > 0 && gallery[n-1].StudentID == studentID {
			gallery[n-1].Embeddings = append(gallery[n-1].Embeddings, vec.Slice())
			continue
		}
		gallery = append(gallery, match.GalleryEntry{
			StudentID:  studentID,
			Embeddings: [][]float32{vec.Slice()},
		})
	}
	return gallery, rows.Err()
}

// --- Attendance sessions ---

func (s *PostgresStore) CreateSession(ctx context.Context, classID, photoKey string, takenAt time.Time) (*models.AttendanceSession, error) {
	sess := &models.AttendanceSession{
		ID:       uuid.New(),
		ClassID:  classID,
		PhotoKey: photoKey,
		Status:   models.SessionStatusPending,
		TakenAt:  takenAt,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO attendance_sessions (id, class_id, photo_key, status, taken_at) VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		sess.ID, sess.ClassID, sess.PhotoKey, sess.Status, sess.TakenAt,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.AttendanceSession, error) {
	sess := &models.AttendanceSession{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, class_id, photo_key, status, error_message, taken_at, created_at, updated_at FROM attendance_sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.ClassID, &sess.PhotoKey, &sess.Status, &sess.ErrorMessage, &sess.TakenAt, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ClaimSession moves a session into processing. The guard admits
// pending sessions and processing ones (a redelivered task after a
// worker crash); completed and failed sessions are never reclaimed.
func (s *PostgresStore) ClaimSession(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attendance_sessions SET status = 'processing', updated_at = now() WHERE id = $1 AND status IN ('pending', 'processing')`,
		id)
	if err != nil {
		return false, fmt.Errorf("claim session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailSession marks a non-terminal session failed. Failing an already
// terminal session is a no-op.
func (s *PostgresStore) FailSession(ctx context.Context, id uuid.UUID, message string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE attendance_sessions SET status = 'failed', error_message = $2, updated_at = now() WHERE id = $1 AND status IN ('pending', 'processing')`,
		id, message)
	if err != nil {
		return fmt.Errorf("fail session: %w", err)
	}
	return nil
}

// CompleteSession persists the attendance record and completes its
// session in one transaction, so a failed run never leaves a partial
// record behind.
func (s *PostgresStore) CompleteSession(ctx context.Context, record *models.AttendanceRecord) error {
	unknown, err := json.Marshal(record.Unknown)
	if err != nil {
		return fmt.Errorf("marshal unknown faces: %w", err)
	}
	matches, err := json.Marshal(record.Matches)
	if err != nil {
		return fmt.Errorf("marshal matches: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO attendance_records (id, session_id, class_id, taken_at, present_students, absent_students, unknown_faces, matches)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		record.ID, record.SessionID, record.ClassID, record.TakenAt,
		record.Present, record.Absent, unknown, matches,
	).Scan(&record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert attendance record: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE attendance_sessions SET status = 'completed', updated_at = now() WHERE id = $1 AND status = 'processing'`,
		record.SessionID)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s is not processing", record.SessionID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --- Attendance records ---

func (s *PostgresStore) GetRecordBySession(ctx context.Context, sessionID uuid.UUID) (*models.AttendanceRecord, error) {
	rec := &models.AttendanceRecord{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, class_id, taken_at, present_students, absent_students, unknown_faces, matches, created_at
		 FROM attendance_records WHERE session_id = $1`, sessionID,
	).Scan(&rec.ID, &rec.SessionID, &rec.ClassID, &rec.TakenAt,
		&rec.Present, &rec.Absent, &rec.Unknown, &rec.Matches, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// ListRecords pages through a class's attendance history, newest first.
func (s *PostgresStore) ListRecords(ctx context.Context, classID string, from, to *time.Time, limit, offset int) ([]models.AttendanceRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE class_id = $1"
	args := []interface{}{classID}
	argIdx := 2

	if from != nil {
		baseWhere += fmt.Sprintf(" AND taken_at >= $%d", argIdx)
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		baseWhere += fmt.Sprintf(" AND taken_at <= $%d", argIdx)
		args = append(args, *to)
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM attendance_records " + baseWhere
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, session_id, class_id, taken_at, present_students, absent_students, unknown_faces, matches, created_at
		 FROM attendance_records %s ORDER BY taken_at DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var rec models.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ClassID, &rec.TakenAt,
			&rec.Present, &rec.Absent, &rec.Unknown, &rec.Matches, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}
