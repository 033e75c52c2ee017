package match

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
)

// BuildRecord packages a reconciliation into a persistable attendance
// record. Assembly always succeeds structurally; persisting the record
// (and failing the session on upstream errors) is the caller's job.
func BuildRecord(sessionID uuid.UUID, classID string, takenAt time.Time, rec Reconciliation) models.AttendanceRecord {
	return models.AttendanceRecord{
		ID:        uuid.New(),
		SessionID: sessionID,
		ClassID:   classID,
		TakenAt:   takenAt,
		Present:   rec.Present,
		Absent:    rec.Absent,
		Unknown:   rec.Unknown,
		Matches:   rec.Matches,
	}
}
