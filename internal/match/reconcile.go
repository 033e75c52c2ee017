package match

import (
	"bytes"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
)

// Reconciliation is the disjoint partition of a class roster produced
// from one set of match outcomes. Present and Absent are sorted;
// Unknown and Matches preserve detection order.
type Reconciliation struct {
	Present []uuid.UUID
	Absent  []uuid.UUID
	Unknown []models.UnknownFace
	Matches []models.FaceMatch
}

// Reconcile combines per-face outcomes with the face-registered roster.
// Present is the distinct set of matched students, Absent is the rest
// of the roster, and every unmatched face lands in Unknown with its
// best-achieved distance. Empty inputs are defined states: no faces
// means the whole roster is absent, an empty roster means every face is
// unknown.
func Reconcile(roster []uuid.UUID, outcomes []FaceOutcome) Reconciliation {
	rec := Reconciliation{
		Present: []uuid.UUID{},
		Absent:  []uuid.UUID{},
		Unknown: []models.UnknownFace{},
		Matches: []models.FaceMatch{},
	}

	matched := make(map[uuid.UUID]bool)
	for _, out := range outcomes {
		if out.StudentID == nil {
			rec.Unknown = append(rec.Unknown, models.UnknownFace{
				Index:        out.Index,
				BestDistance: out.Distance,
			})
			continue
		}
		rec.Matches = append(rec.Matches, models.FaceMatch{
			Index:     out.Index,
			StudentID: *out.StudentID,
			Distance:  *out.Distance,
		})
		matched[*out.StudentID] = true
	}

	for id := range matched {
		rec.Present = append(rec.Present, id)
	}
	sortUUIDs(rec.Present)

	// Absent only ever contains roster members; a matched student
	// missing from the roster still counts as present above.
	for _, id := range roster {
		if !matched[id] {
			rec.Absent = append(rec.Absent, id)
		}
	}
	sortUUIDs(rec.Absent)

	return rec
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
