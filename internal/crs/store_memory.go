package crs

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mind-engage/mindengage-crs/internal/ledger"
	"github.com/mind-engage/mindengage-crs/internal/rubric"
)

type memoryStore struct {
	mu             sync.RWMutex
	parameters     []rubric.Parameter
	violationTypes map[string]rubric.ViolationType
	students       map[string]Student
	scores         map[string][]ledger.ScoreEntry
	violations     map[string][]ledger.ViolationRecord
	history        map[string][]ledger.CRSHistoryEntry
}

// NewInMemoryStore is used by tests and MODE=dev.
func NewInMemoryStore() Store {
	return &memoryStore{
		violationTypes: map[string]rubric.ViolationType{},
		students:       map[string]Student{},
		scores:         map[string][]ledger.ScoreEntry{},
		violations:     map[string][]ledger.ViolationRecord{},
		history:        map[string][]ledger.CRSHistoryEntry{},
	}
}

func (m *memoryStore) Rubric(_ context.Context) (rubric.Rubric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]rubric.Parameter, len(m.parameters))
	for i, p := range m.parameters {
		p.SubParameters = append([]rubric.SubParameter(nil), p.SubParameters...)
		out[i] = p
	}
	return rubric.Rubric{Parameters: out}, nil
}

func (m *memoryStore) PutParameter(_ context.Context, p rubric.Parameter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range p.SubParameters {
		p.SubParameters[i].ParameterID = p.ID
	}
	for i, existing := range m.parameters {
		if existing.ID == p.ID {
			m.parameters[i] = p
			return nil
		}
	}
	m.parameters = append(m.parameters, p)
	return nil
}

func (m *memoryStore) GetSubParameter(_ context.Context, id string) (rubric.SubParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sp, ok := (rubric.Rubric{Parameters: m.parameters}).SubParameter(id); ok {
		return sp, nil
	}
	return rubric.SubParameter{}, notFound("sub-parameter", id)
}

func (m *memoryStore) FindSubParameterByName(_ context.Context, name string) (rubric.SubParameter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.parameters {
		for _, sp := range p.SubParameters {
			if strings.EqualFold(sp.Name, name) {
				return sp, nil
			}
		}
	}
	return rubric.SubParameter{}, notFound("sub-parameter", name)
}

func (m *memoryStore) PutViolationType(_ context.Context, vt rubric.ViolationType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violationTypes[vt.ID] = vt
	return nil
}

func (m *memoryStore) GetViolationType(_ context.Context, id string) (rubric.ViolationType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vt, ok := m.violationTypes[id]
	if !ok {
		return rubric.ViolationType{}, notFound("violation type", id)
	}
	return vt, nil
}

func (m *memoryStore) PutStudent(_ context.Context, s Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.students[s.ID]; ok {
		s.CurrentCRS = existing.CurrentCRS
		s.CreatedAt = existing.CreatedAt
	}
	m.students[s.ID] = s
	return nil
}

func (m *memoryStore) GetStudent(_ context.Context, id string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return Student{}, notFound("student", id)
	}
	return s, nil
}

func (m *memoryStore) FindStudentByRegisterNumber(_ context.Context, regNo string) (Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if s.RegisterNumber == regNo {
			return s, nil
		}
	}
	return Student{}, notFound("student", regNo)
}

func (m *memoryStore) ListStudentIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.students))
	for id := range m.students {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memoryStore) InsertScore(_ context.Context, e ledger.ScoreEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[e.StudentID] = append(m.scores[e.StudentID], e)
	return nil
}

func (m *memoryStore) InsertViolation(_ context.Context, v ledger.ViolationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations[v.StudentID] = append(m.violations[v.StudentID], v)
	return nil
}

func (m *memoryStore) ScoresFor(_ context.Context, studentID string) ([]ledger.ScoreEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.ScoreEntry(nil), m.scores[studentID]...), nil
}

func (m *memoryStore) ViolationsFor(_ context.Context, studentID string) ([]ledger.ViolationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.ViolationRecord, 0, len(m.violations[studentID]))
	for _, v := range m.violations[studentID] {
		vt := m.violationTypes[v.ViolationTypeID]
		v.ViolationName, v.Penalty, v.Severity = vt.Name, vt.Penalty, vt.Severity
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) ApplyChange(_ context.Context, h ledger.CRSHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[h.StudentID]
	if !ok {
		return notFound("student", h.StudentID)
	}
	s.CurrentCRS = h.NewScore
	m.students[h.StudentID] = s
	m.history[h.StudentID] = append(m.history[h.StudentID], h)
	return nil
}

func (m *memoryStore) HistoryFor(_ context.Context, studentID string) ([]ledger.CRSHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ledger.CRSHistoryEntry(nil), m.history[studentID]...), nil
}
