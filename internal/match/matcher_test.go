package match

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	s1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	s2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	s3 = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

// classGallery is the two-student fixture shared by the attendance
// scenarios: S1 registered at [1,0,0], S2 at [0,1,0].
func classGallery() Gallery {
	return Gallery{
		{StudentID: s1, Embeddings: [][]float32{{1, 0, 0}}},
		{StudentID: s2, Embeddings: [][]float32{{0, 1, 0}}},
	}
}

func TestMatcherExactMatch(t *testing.T) {
	m := NewMatcher(0.6, PolicyConfirm, 1)

	outcomes := m.Match([]DetectedFace{{Index: 0, Embedding: []float32{1, 0, 0}}}, classGallery())

	require.Len(t, outcomes, 1)
	require.NotNil(t, outcomes[0].StudentID)
	assert.Equal(t, s1, *outcomes[0].StudentID)
	require.NotNil(t, outcomes[0].Distance)
	assert.InDelta(t, 0, *outcomes[0].Distance, 1e-9)
}

func TestMatcherNoFaces(t *testing.T) {
	m := NewMatcher(0.6, PolicyConfirm, 1)

	outcomes := m.Match(nil, classGallery())

	assert.Empty(t, outcomes)
}

func TestMatcherFaceOverThreshold(t *testing.T) {
	m := NewMatcher(0.6, PolicyConfirm, 1)

	// [0,0,1] is sqrt(2) away from both registered embeddings.
	outcomes := m.Match([]DetectedFace{{Index: 0, Embedding: []float32{0, 0, 1}}}, classGallery())

	require.Len(t, outcomes, 1)
	assert.Nil(t, outcomes[0].StudentID)
	require.NotNil(t, outcomes[0].Distance)
	assert.InDelta(t, math.Sqrt2, *outcomes[0].Distance, 1e-6)
}

func TestMatcherEmptyGallery(t *testing.T) {
	m := NewMatcher(0.6, PolicyConfirm, 1)

	outcomes := m.Match([]DetectedFace{{Index: 0, Embedding: []float32{1, 0, 0}}}, nil)

	require.Len(t, outcomes, 1)
	assert.Nil(t, outcomes[0].StudentID)
	assert.Nil(t, outcomes[0].Distance, "no candidate existed, best distance must be nil")
}

func TestMatcherThresholdIsStrict(t *testing.T) {
	gallery := Gallery{{StudentID: s1, Embeddings: [][]float32{{0, 0}}}}
	face := DetectedFace{Index: 0, Embedding: []float32{0.6, 0}}

	exact, err := EuclideanDistance(face.Embedding, gallery[0].Embeddings[0])
	require.NoError(t, err)

	// A distance exactly equal to the threshold is not a match.
	m := NewMatcher(exact, PolicyConfirm, 1)
	outcomes := m.Match([]DetectedFace{face}, gallery)

	require.Len(t, outcomes, 1)
	assert.Nil(t, outcomes[0].StudentID)
	require.NotNil(t, outcomes[0].Distance)
	assert.Equal(t, exact, *outcomes[0].Distance)
}

func TestMatcherTieKeepsFirstGalleryEntry(t *testing.T) {
	shared := []float32{1, 0, 0}
	face := []DetectedFace{{Index: 0, Embedding: []float32{1, 0, 0}}}
	m := NewMatcher(0.6, PolicyConfirm, 1)

	forward := Gallery{
		{StudentID: s1, Embeddings: [][]float32{shared}},
		{StudentID: s2, Embeddings: [][]float32{shared}},
	}
	reversed := Gallery{
		{StudentID: s2, Embeddings: [][]float32{shared}},
		{StudentID: s1, Embeddings: [][]float32{shared}},
	}

	out := m.Match(face, forward)
	require.NotNil(t, out[0].StudentID)
	assert.Equal(t, s1, *out[0].StudentID)

	out = m.Match(face, reversed)
	require.NotNil(t, out[0].StudentID)
	assert.Equal(t, s2, *out[0].StudentID)
}

func TestMatcherSkipsMismatchedCandidate(t *testing.T) {
	gallery := Gallery{
		{StudentID: s1, Embeddings: [][]float32{
			{1, 0}, // malformed: wrong dimensionality
			{1, 0, 0},
		}},
	}
	m := NewMatcher(0.6, PolicyConfirm, 1)

	outcomes := m.Match([]DetectedFace{{Index: 0, Embedding: []float32{1, 0, 0}}}, gallery)

	require.Len(t, outcomes, 1)
	require.NotNil(t, outcomes[0].StudentID)
	assert.Equal(t, s1, *outcomes[0].StudentID)
	assert.InDelta(t, 0, *outcomes[0].Distance, 1e-9)
}

func TestMatcherAllCandidatesMismatched(t *testing.T) {
	gallery := Gallery{
		{StudentID: s1, Embeddings: [][]float32{{1, 0}}},
		{StudentID: s2, Embeddings: [][]float32{{0, 1, 0, 0}}},
	}
	m := NewMatcher(0.6, PolicyConfirm, 1)

	outcomes := m.Match([]DetectedFace{{Index: 0, Embedding: []float32{1, 0, 0}}}, gallery)

	require.Len(t, outcomes, 1)
	assert.Nil(t, outcomes[0].StudentID)
	assert.Nil(t, outcomes[0].Distance)
}

func TestMatcherDuplicatePolicies(t *testing.T) {
	// Both faces are closest to S1; the second at distance 0.1.
	faces := []DetectedFace{
		{Index: 0, Embedding: []float32{1, 0, 0}},
		{Index: 1, Embedding: []float32{0.9, 0, 0}},
	}

	t.Run("confirm keeps both matches", func(t *testing.T) {
		m := NewMatcher(0.6, PolicyConfirm, 1)
		outcomes := m.Match(faces, classGallery())

		require.Len(t, outcomes, 2)
		require.NotNil(t, outcomes[0].StudentID)
		require.NotNil(t, outcomes[1].StudentID)
		assert.Equal(t, s1, *outcomes[0].StudentID)
		assert.Equal(t, s1, *outcomes[1].StudentID)
	})

	t.Run("flag demotes the later claim", func(t *testing.T) {
		m := NewMatcher(0.6, PolicyFlag, 1)
		outcomes := m.Match(faces, classGallery())

		require.Len(t, outcomes, 2)
		require.NotNil(t, outcomes[0].StudentID)
		assert.Equal(t, s1, *outcomes[0].StudentID)
		assert.Nil(t, outcomes[1].StudentID)
		require.NotNil(t, outcomes[1].Distance, "demoted face keeps its best distance")
		assert.InDelta(t, 0.1, *outcomes[1].Distance, 1e-6)
	})
}

// axis returns a dim-length vector with v at position i.
func axis(dim, i int, v float32) []float32 {
	e := make([]float32, dim)
	e[i] = v
	return e
}

func bigFixture() ([]DetectedFace, Gallery) {
	const dim, students = 10, 10

	gallery := make(Gallery, 0, students)
	for i := 0; i < students; i++ {
		id := uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-0000000000%02d", i+1))
		gallery = append(gallery, GalleryEntry{
			StudentID:  id,
			Embeddings: [][]float32{axis(dim, i, 1)},
		})
	}

	faces := make([]DetectedFace, 0, 40)
	for j := 0; j < 40; j++ {
		var emb []float32
		switch {
		case j%4 == 3:
			// Far from every registered embedding.
			emb = make([]float32, dim)
			for k := range emb {
				emb[k] = 0.5
			}
		default:
			// Near student j%students; duplicates arise past j=9.
			emb = axis(dim, j%students, 0.95)
		}
		faces = append(faces, DetectedFace{Index: j, Embedding: emb})
	}
	return faces, gallery
}

func TestMatcherParallelMatchesSequential(t *testing.T) {
	faces, gallery := bigFixture()

	for _, policy := range []DuplicatePolicy{PolicyConfirm, PolicyFlag} {
		t.Run(string(policy), func(t *testing.T) {
			seq := NewMatcher(0.6, policy, 1).Match(faces, gallery)
			par := NewMatcher(0.6, policy, 8).Match(faces, gallery)

			require.Equal(t, seq, par)
		})
	}
}

func TestMatcherIdempotent(t *testing.T) {
	faces, gallery := bigFixture()
	m := NewMatcher(0.6, PolicyConfirm, 4)

	first := m.Match(faces, gallery)
	second := m.Match(faces, gallery)

	require.Equal(t, first, second)
}

func TestParseDuplicatePolicy(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    DuplicatePolicy
		wantErr bool
	}{
		{name: "empty defaults to confirm", in: "", want: PolicyConfirm},
		{name: "confirm", in: "confirm", want: PolicyConfirm},
		{name: "flag", in: "flag", want: PolicyFlag},
		{name: "unknown value", in: "strict", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDuplicatePolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
