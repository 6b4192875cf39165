package tipsched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"tipbot/internal/storage"
	kit "tipbot/internal/transport"
)

// Store is what the scheduler operations need from persistence.
type Store interface {
	storage.ScheduleStore
	TipSource
}

// Partial is a schedule update; nil fields keep their saved value.
type Partial struct {
	ChatID *int64
	Hour   *int
	Minute *int
}

func (p Partial) Empty() bool { return p.ChatID == nil && p.Hour == nil && p.Minute == nil }

func (p Partial) validate() error {
	if p.ChatID != nil && *p.ChatID == 0 {
		return &ValidationError{Field: "chat", Reason: "chat id must be non-zero"}
	}
	if p.Hour != nil && (*p.Hour < 0 || *p.Hour > 23) {
		return &ValidationError{Field: "hour", Reason: fmt.Sprintf("%d is outside 0-23", *p.Hour)}
	}
	if p.Minute != nil && (*p.Minute < 0 || *p.Minute > 59) {
		return &ValidationError{Field: "minute", Reason: fmt.Sprintf("%d is outside 0-59", *p.Minute)}
	}
	return nil
}

// merge applies p over cur. Without a saved record every field is required.
func (p Partial) merge(cur storage.Schedule, exists bool) (storage.Schedule, error) {
	if !exists {
		switch {
		case p.ChatID == nil:
			return storage.Schedule{}, &ValidationError{Field: "chat", Reason: "required for the first configuration"}
		case p.Hour == nil:
			return storage.Schedule{}, &ValidationError{Field: "hour", Reason: "required for the first configuration"}
		case p.Minute == nil:
			return storage.Schedule{}, &ValidationError{Field: "minute", Reason: "required for the first configuration"}
		}
	}
	out := cur
	if p.ChatID != nil {
		out.ChatID = *p.ChatID
	}
	if p.Hour != nil {
		out.Hour = *p.Hour
	}
	if p.Minute != nil {
		out.Minute = *p.Minute
	}
	return out, nil
}

// State is the result of Status.
type State struct {
	storage.Schedule
	Running  bool
	NextFire time.Time
	Location *time.Location
}

// Outcome is the result of Reconfigure.
type Outcome struct {
	storage.Schedule
	Restarted bool
}

// Start loads the saved schedule and launches the loop with it, replacing
// any loop already in the cell.
func Start(ctx context.Context, store Store, cell *Cell, sink kit.Sender) (storage.Schedule, error) {
	cell.mu.Lock()
	defer cell.mu.Unlock()

	sched, err := loadSchedule(ctx, store, "load")
	if err != nil {
		return storage.Schedule{}, err
	}
	cell.startLocked(store, sink, sched)
	return sched, nil
}

// Stop cancels the running loop. It is a no-op when nothing runs.
func Stop(cell *Cell) {
	cell.mu.Lock()
	cell.stopLocked()
	cell.mu.Unlock()
}

// Status reports the saved schedule and whether the loop runs.
func Status(ctx context.Context, store storage.ScheduleStore, cell *Cell) (State, error) {
	sched, err := loadSchedule(ctx, store, "load")
	if err != nil {
		return State{}, err
	}

	cell.mu.RLock()
	running := cell.runningLocked()
	loc := cell.settings.Location
	if running {
		loc = cell.h.settings.Location
	}
	now := cell.now()
	cell.mu.RUnlock()

	return State{
		Schedule: sched,
		Running:  running,
		NextFire: NextFire(sched, now, loc),
		Location: loc,
	}, nil
}

// Reconfigure merges p into the saved schedule, persists it and restarts the
// loop with the saved result if it was running. The cell stays write-locked
// for the whole sequence.
func Reconfigure(ctx context.Context, store Store, cell *Cell, sink kit.Sender, p Partial) (Outcome, error) {
	if err := p.validate(); err != nil {
		return Outcome{}, err
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()

	wasRunning := cell.runningLocked()

	cur, err := store.LoadSchedule(ctx)
	exists := true
	if errors.Is(err, storage.ErrNotFound) {
		exists = false
	} else if err != nil {
		return Outcome{}, &StoreError{Op: "load", Err: err}
	}

	merged, err := p.merge(cur, exists)
	if err != nil {
		return Outcome{}, err
	}
	if err := store.SaveSchedule(ctx, merged); err != nil {
		return Outcome{}, &StoreError{Op: "save", Err: err}
	}
	final, err := loadSchedule(ctx, store, "reload")
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Schedule: final}
	if wasRunning {
		cell.stopLocked()
		cell.startLocked(store, sink, final)
		out.Restarted = true
	}
	return out, nil
}

// NextFire returns the next time at or after now (minute precision) when the
// schedule matches in loc.
func NextFire(s storage.Schedule, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	spec, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", s.Minute, s.Hour))
	if err != nil {
		return time.Time{}
	}
	// cron.Next is strictly after its argument; step back so the current
	// matching minute counts.
	return spec.Next(now.In(loc).Truncate(time.Minute).Add(-time.Second))
}

func loadSchedule(ctx context.Context, store storage.ScheduleStore, op string) (storage.Schedule, error) {
	sched, err := store.LoadSchedule(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Schedule{}, ErrNotConfigured
	}
	if err != nil {
		return storage.Schedule{}, &StoreError{Op: op, Err: err}
	}
	return sched, nil
}
