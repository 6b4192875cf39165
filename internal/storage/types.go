package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	ErrClosed    = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": process-local, lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// Tip is a stored short-form message.
type Tip struct {
	ID      int64
	Title   string
	Content string
	Tags    string // comma separated, lowercase, may be empty
}

// TagList splits Tags into its non-empty entries.
func (t Tip) TagList() []string { return SplitTags(t.Tags) }

// TipPatch is a partial tip update; nil fields are left untouched.
type TipPatch struct {
	Title   *string
	Content *string
	Tags    *string
}

func (p TipPatch) Empty() bool { return p.Title == nil && p.Content == nil && p.Tags == nil }

// Schedule is the singleton daily-tip configuration.
type Schedule struct {
	ChatID int64
	Hour   int
	Minute int
}

type TipStore interface {
	CreateTip(ctx context.Context, t Tip) (Tip, error)
	GetTip(ctx context.Context, id int64) (Tip, error)
	ListTips(ctx context.Context) ([]Tip, error)
	// ListTipsByTags returns tips carrying at least one of tags.
	ListTipsByTags(ctx context.Context, tags []string) ([]Tip, error)
	UpdateTip(ctx context.Context, id int64, p TipPatch) (Tip, error)
	DeleteTip(ctx context.Context, id int64) error
}

type ScheduleStore interface {
	// LoadSchedule returns ErrNotFound when no configuration was saved yet.
	LoadSchedule(ctx context.Context) (Schedule, error)
	// SaveSchedule inserts or replaces the singleton row.
	SaveSchedule(ctx context.Context, s Schedule) error
}

// Store is the persistence API used by the app.
type Store interface {
	TipStore
	ScheduleStore
	Close() error
}

// NormalizeTags lowercases a comma separated tag string and drops blanks.
func NormalizeTags(raw string) string {
	return strings.Join(SplitTags(raw), ",")
}

func SplitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hasAnyTag(t Tip, tags []string) bool {
	for _, have := range t.TagList() {
		for _, want := range tags {
			if have == want {
				return true
			}
		}
	}
	return false
}
