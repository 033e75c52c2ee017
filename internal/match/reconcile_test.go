package match

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runScenario pushes detected embeddings through the matcher and the
// reconciler with the default threshold, the way the analysis worker
// does.
func runScenario(roster []uuid.UUID, gallery Gallery, detected [][]float32) Reconciliation {
	faces := make([]DetectedFace, len(detected))
	for i, emb := range detected {
		faces[i] = DetectedFace{Index: i, Embedding: emb}
	}
	m := NewMatcher(DefaultThreshold, PolicyConfirm, 1)
	return Reconcile(roster, m.Match(faces, gallery))
}

func TestScenarioSingleFaceMatches(t *testing.T) {
	rec := runScenario([]uuid.UUID{s1, s2}, classGallery(), [][]float32{{1, 0, 0}})

	assert.Equal(t, []uuid.UUID{s1}, rec.Present)
	assert.Equal(t, []uuid.UUID{s2}, rec.Absent)
	assert.Empty(t, rec.Unknown)
	require.Len(t, rec.Matches, 1)
	assert.Equal(t, s1, rec.Matches[0].StudentID)
}

func TestScenarioNoFacesDetected(t *testing.T) {
	rec := runScenario([]uuid.UUID{s1, s2}, classGallery(), nil)

	assert.Empty(t, rec.Present)
	assert.Equal(t, []uuid.UUID{s1, s2}, rec.Absent)
	assert.Empty(t, rec.Unknown)
}

func TestScenarioFaceTooFar(t *testing.T) {
	rec := runScenario([]uuid.UUID{s1, s2}, classGallery(), [][]float32{{0, 0, 1}})

	assert.Empty(t, rec.Present)
	assert.Equal(t, []uuid.UUID{s1, s2}, rec.Absent)
	require.Len(t, rec.Unknown, 1)
	assert.Equal(t, 0, rec.Unknown[0].Index)
	require.NotNil(t, rec.Unknown[0].BestDistance)
	assert.InDelta(t, 1.41, *rec.Unknown[0].BestDistance, 0.01)
}

func TestScenarioEmptyRoster(t *testing.T) {
	rec := runScenario(nil, nil, [][]float32{{1, 0, 0}})

	assert.Empty(t, rec.Present)
	assert.Empty(t, rec.Absent)
	require.Len(t, rec.Unknown, 1)
	assert.Equal(t, 0, rec.Unknown[0].Index)
	assert.Nil(t, rec.Unknown[0].BestDistance, "no candidate existed")
}

func TestScenarioDuplicateMatchCountsOnce(t *testing.T) {
	rec := runScenario([]uuid.UUID{s1, s2}, classGallery(), [][]float32{
		{1, 0, 0},
		{0.9, 0, 0},
	})

	assert.Equal(t, []uuid.UUID{s1}, rec.Present, "student counted once despite two matching faces")
	assert.Equal(t, []uuid.UUID{s2}, rec.Absent)
	assert.Empty(t, rec.Unknown)
	assert.Len(t, rec.Matches, 2, "both faces recorded as provenance")
}

func TestReconcilePartition(t *testing.T) {
	faces, gallery := bigFixture()
	roster := make([]uuid.UUID, len(gallery))
	for i, entry := range gallery {
		roster[i] = entry.StudentID
	}

	m := NewMatcher(DefaultThreshold, PolicyConfirm, 4)
	outcomes := m.Match(faces, gallery)
	rec := Reconcile(roster, outcomes)

	// present and absent are disjoint and cover the roster.
	seen := make(map[uuid.UUID]int)
	for _, id := range rec.Present {
		seen[id]++
	}
	for _, id := range rec.Absent {
		seen[id]++
	}
	assert.Len(t, seen, len(roster))
	for id, n := range seen {
		assert.Equal(t, 1, n, "student %s appears in exactly one partition", id)
	}

	// every face index lands in matches or unknown, never both.
	indices := make(map[int]int)
	for _, mt := range rec.Matches {
		indices[mt.Index]++
	}
	for _, u := range rec.Unknown {
		indices[u.Index]++
	}
	assert.Len(t, indices, len(faces))
	for idx, n := range indices {
		assert.Equal(t, 1, n, "face %d accounted for exactly once", idx)
	}
}

func TestReconcileUnknownOrderPreserved(t *testing.T) {
	d1, d2 := 1.2, 1.5
	outcomes := []FaceOutcome{
		{Index: 0, Distance: &d1},
		{Index: 1, StudentID: &s1, Distance: new(float64)},
		{Index: 2, Distance: &d2},
	}

	rec := Reconcile([]uuid.UUID{s1, s2}, outcomes)

	require.Len(t, rec.Unknown, 2)
	assert.Equal(t, 0, rec.Unknown[0].Index)
	assert.Equal(t, 2, rec.Unknown[1].Index)
}

func TestReconcileOffRosterMatch(t *testing.T) {
	// A matched student missing from the roster cannot happen through
	// the store, but the partition must stay sane if it does.
	d := 0.1
	outcomes := []FaceOutcome{{Index: 0, StudentID: &s3, Distance: &d}}

	rec := Reconcile([]uuid.UUID{s1}, outcomes)

	assert.Equal(t, []uuid.UUID{s3}, rec.Present)
	assert.Equal(t, []uuid.UUID{s1}, rec.Absent)
}

func TestBuildRecord(t *testing.T) {
	sessionID := uuid.New()
	takenAt := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	rec := runScenario([]uuid.UUID{s1, s2}, classGallery(), [][]float32{{1, 0, 0}})

	record := BuildRecord(sessionID, "class-7b", takenAt, rec)

	assert.NotEqual(t, uuid.Nil, record.ID)
	assert.Equal(t, sessionID, record.SessionID)
	assert.Equal(t, "class-7b", record.ClassID)
	assert.Equal(t, takenAt, record.TakenAt)
	assert.Equal(t, rec.Present, record.Present)
	assert.Equal(t, rec.Absent, record.Absent)
	assert.Equal(t, rec.Unknown, record.Unknown)
	assert.Equal(t, rec.Matches, record.Matches)
}
