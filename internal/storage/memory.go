package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryStore keeps everything in process memory behind one mutex.
type memoryStore struct {
	mu       sync.Mutex
	closed   bool
	nextID   int64
	tips     map[int64]Tip
	schedule *Schedule
}

// NewMemory returns an empty in-memory Store.
func NewMemory() Store {
	return &memoryStore{nextID: 1, tips: map[int64]Tip{}}
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) CreateTip(ctx context.Context, t Tip) (Tip, error) {
	if err := ctx.Err(); err != nil {
		return Tip{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Tip{}, ErrClosed
	}
	for _, have := range m.tips {
		if have.Title == t.Title {
			return Tip{}, ErrDuplicate
		}
	}
	t.ID = m.nextID
	t.Tags = NormalizeTags(t.Tags)
	m.nextID++
	m.tips[t.ID] = t
	return t, nil
}

func (m *memoryStore) GetTip(ctx context.Context, id int64) (Tip, error) {
	if err := ctx.Err(); err != nil {
		return Tip{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Tip{}, ErrClosed
	}
	t, ok := m.tips[id]
	if !ok {
		return Tip{}, ErrNotFound
	}
	return t, nil
}

func (m *memoryStore) ListTips(ctx context.Context) ([]Tip, error) {
	return m.ListTipsByTags(ctx, nil)
}

func (m *memoryStore) ListTipsByTags(ctx context.Context, tags []string) ([]Tip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	tags = SplitTags(strings.Join(tags, ","))
	var out []Tip
	for _, t := range m.tips {
		if len(tags) == 0 || hasAnyTag(t, tags) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) UpdateTip(ctx context.Context, id int64, p TipPatch) (Tip, error) {
	if err := ctx.Err(); err != nil {
		return Tip{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Tip{}, ErrClosed
	}
	t, ok := m.tips[id]
	if !ok {
		return Tip{}, ErrNotFound
	}
	if p.Title != nil {
		for otherID, other := range m.tips {
			if otherID != id && other.Title == *p.Title {
				return Tip{}, ErrDuplicate
			}
		}
		t.Title = *p.Title
	}
	if p.Content != nil {
		t.Content = *p.Content
	}
	if p.Tags != nil {
		t.Tags = NormalizeTags(*p.Tags)
	}
	m.tips[id] = t
	return t, nil
}

func (m *memoryStore) DeleteTip(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.tips[id]; !ok {
		return ErrNotFound
	}
	delete(m.tips, id)
	return nil
}

func (m *memoryStore) LoadSchedule(ctx context.Context) (Schedule, error) {
	if err := ctx.Err(); err != nil {
		return Schedule{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Schedule{}, ErrClosed
	}
	if m.schedule == nil {
		return Schedule{}, ErrNotFound
	}
	return *m.schedule, nil
}

func (m *memoryStore) SaveSchedule(ctx context.Context, s Schedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.schedule = &s
	return nil
}
