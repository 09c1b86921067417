package catalog

// Snapshot is a read-only view of one Subject and its criteria.
// One Snapshot is taken per evaluation so the whole computation sees the same catalog.
type Snapshot struct {
	subject  Subject
	criteria []Criterion
	byID     map[int64]Criterion
}

// NewSnapshot copies subj; later changes to subj do not leak into the Snapshot.
func NewSnapshot(subj Subject) Snapshot {
	criteria := make([]Criterion, len(subj.Criteria))
	copy(criteria, subj.Criteria)
	sortCriteria(criteria)

	byID := make(map[int64]Criterion, len(criteria))
	for _, c := range criteria {
		byID[c.ID] = c
	}
	subj.Criteria = nil
	return Snapshot{subject: subj, criteria: criteria, byID: byID}
}

// Subject returns the subject metadata (without criteria).
func (s Snapshot) Subject() Subject {
	return s.subject
}

// CriteriaFor returns the criteria of subjectID ordered by display order,
// or nil when subjectID is not the snapshot's subject.
func (s Snapshot) CriteriaFor(subjectID int64) []Criterion {
	if subjectID != s.subject.ID {
		return nil
	}
	criteria := make([]Criterion, len(s.criteria))
	copy(criteria, s.criteria)
	return criteria
}

// Criterion looks up a criterion of the snapshot's subject.
func (s Snapshot) Criterion(id int64) (Criterion, bool) {
	c, ok := s.byID[id]
	return c, ok
}
