package match

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DefaultThreshold is the maximum distance at which two embeddings are
// considered the same identity. Matches the scale of the external
// embedder's 128-dim descriptors.
const DefaultThreshold = 0.6

// DetectedFace is one embedding extracted from a group photo. Index is
// the face's position in the detector's output and is carried through
// to the attendance record.
type DetectedFace struct {
	Index     int
	Embedding []float32
}

// GalleryEntry holds the registered embeddings of one student.
type GalleryEntry struct {
	StudentID  uuid.UUID
	Embeddings [][]float32
}

// Gallery is a class's registered embeddings grouped per student.
// Slice order is the candidate scan order: ties go to the earlier
// entry, so a stable gallery makes match output deterministic.
type Gallery []GalleryEntry

// FaceOutcome is the matcher's decision for one detected face.
// StudentID is nil for an unknown face. Distance is the matched
// distance, or the best distance achieved for an unknown face; it is
// nil only when no candidate embedding could be compared at all.
type FaceOutcome struct {
	Index     int        `json:"index"`
	StudentID *uuid.UUID `json:"student_id,omitempty"`
	Distance  *float64   `json:"distance,omitempty"`
}

// DuplicatePolicy decides what happens when two detected faces both
// best-match the same student.
type DuplicatePolicy string

const (
	// PolicyConfirm keeps every match: duplicate faces silently confirm
	// the same student's presence.
	PolicyConfirm DuplicatePolicy = "confirm"
	// PolicyFlag demotes any face after the first claiming a student to
	// unknown, keeping its best distance. Claims resolve in detection
	// order.
	PolicyFlag DuplicatePolicy = "flag"
)

// ParseDuplicatePolicy validates a configured policy name.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case PolicyConfirm, PolicyFlag:
		return DuplicatePolicy(s), nil
	case "":
		return PolicyConfirm, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q", s)
}

// Matcher assigns detected faces to gallery students by nearest
// Euclidean distance under a threshold. It holds no mutable state:
// Match is a pure function of its inputs.
type Matcher struct {
	threshold float64
	policy    DuplicatePolicy
	workers   int
}

func NewMatcher(threshold float64, policy DuplicatePolicy, workers int) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if policy == "" {
		policy = PolicyConfirm
	}
	if workers < 1 {
		workers = 1
	}
	return &Matcher{threshold: threshold, policy: policy, workers: workers}
}

func (m *Matcher) Threshold() float64 { return m.threshold }

func (m *Matcher) Policy() DuplicatePolicy { return m.policy }

// Match scores every detected face against the gallery and returns one
// outcome per face, in input order. Faces are independent, so the
// distance scans may run on several workers; each goroutine writes only
// its own index and the duplicate policy is applied afterwards in
// detection order, so worker count never changes the result.
func (m *Matcher) Match(faces []DetectedFace, gallery Gallery) []FaceOutcome {
	outcomes := make([]FaceOutcome, len(faces))

	if m.workers > 1 && len(faces) > 1 {
		workers := m.workers
		if workers > len(faces) {
			workers = len(faces)
		}
		idx := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range idx {
					outcomes[i] = m.scanFace(faces[i], gallery)
				}
			}()
		}
		for i := range faces {
			idx <- i
		}
		close(idx)
		wg.Wait()
	} else {
		for i, f := range faces {
			outcomes[i] = m.scanFace(f, gallery)
		}
	}

	if m.policy == PolicyFlag {
		applyFlagPolicy(outcomes)
	}
	return outcomes
}

// scanFace finds the closest candidate for one face across every
// embedding of every gallery entry.
func (m *Matcher) scanFace(face DetectedFace, gallery Gallery) FaceOutcome {
	out := FaceOutcome{Index: face.Index}

	var (
		bestDistance float64
		bestStudent  uuid.UUID
		found        bool
	)
	for _, entry := range gallery {
		for _, emb := range entry.Embeddings {
			d, err := EuclideanDistance(face.Embedding, emb)
			if err != nil {
				// One malformed registered embedding must not take down
				// matching for the whole class: skip the candidate.
				continue
			}
			if !found || d < bestDistance {
				bestDistance = d
				bestStudent = entry.StudentID
				found = true
			}
		}
	}
	if !found {
		// No comparable candidate at all (empty gallery, or every
		// candidate had mismatched dimensions).
		return out
	}

	out.Distance = &bestDistance
	if bestDistance < m.threshold {
		id := bestStudent
		out.StudentID = &id
	}
	return out
}

// applyFlagPolicy demotes repeat claims on an already-claimed student,
// walking outcomes in detection order.
func applyFlagPolicy(outcomes []FaceOutcome) {
	claimed := make(map[uuid.UUID]bool)
	for i := range outcomes {
		sid := outcomes[i].StudentID
		if sid == nil {
			continue
		}
		if claimed[*sid] {
			outcomes[i].StudentID = nil
			continue
		}
		claimed[*sid] = true
	}
}
