package tipsched

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"tipbot/internal/eventbus"
	"tipbot/internal/runtime/supervisor"
	"tipbot/internal/storage"
	kit "tipbot/internal/transport"
	logx "tipbot/pkg/logx"
)

const (
	DefaultPollInterval = 60 * time.Second
	DefaultSendTimeout  = 15 * time.Second
)

// Settings are captured by each Start; changing them affects the next loop.
type Settings struct {
	Location     *time.Location
	PollInterval time.Duration
	SendTimeout  time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Location == nil {
		s.Location = time.Local
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.SendTimeout <= 0 {
		s.SendTimeout = DefaultSendTimeout
	}
	return s
}

type Option func(*Cell)

func WithLogger(log logx.Logger) Option { return func(c *Cell) { c.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(c *Cell) { c.bus = bus } }

func WithSettings(s Settings) Option { return func(c *Cell) { c.settings = s.withDefaults() } }

// WithClock replaces time.Now for the loop and Status.
func WithClock(now func() time.Time) Option {
	return func(c *Cell) {
		if now != nil {
			c.now = now
		}
	}
}

// WithPicker replaces the uniform random index picker.
func WithPicker(pick func(n int) int) Option {
	return func(c *Cell) {
		if pick != nil {
			c.pick = pick
		}
	}
}

// Cell holds the handle of the running tip loop, if any.
type Cell struct {
	mu sync.RWMutex
	h  *handle

	base     context.Context
	log      logx.Logger
	bus      eventbus.Bus
	settings Settings
	now      func() time.Time
	pick     func(n int) int
}

type handle struct {
	sup      *supervisor.Supervisor
	sched    storage.Schedule
	settings Settings
}

// NewCell returns an empty cell. Loops started from it are children of base.
func NewCell(base context.Context, opts ...Option) *Cell {
	if base == nil {
		base = context.Background()
	}
	c := &Cell{
		base:     base,
		settings: Settings{}.withDefaults(),
		now:      time.Now,
		pick:     rand.IntN,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ApplySettings updates the settings used by the next Start.
func (c *Cell) ApplySettings(s Settings) {
	c.mu.Lock()
	c.settings = s.withDefaults()
	c.mu.Unlock()
}

func (c *Cell) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// IsRunning reports whether a loop handle is present and its goroutine is alive.
func (c *Cell) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runningLocked()
}

// Captured returns the schedule the current loop runs with.
func (c *Cell) Captured() (storage.Schedule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.runningLocked() {
		return storage.Schedule{}, false
	}
	return c.h.sched, true
}

// Shutdown cancels the loop and waits for it to return, bounded by ctx.
func (c *Cell) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	h := c.h
	c.h = nil
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.sup.Stop(ctx)
}

func (c *Cell) runningLocked() bool {
	return c.h != nil && c.h.sup.Active() > 0
}

// startLocked replaces any current loop with a new one. Caller holds mu.
func (c *Cell) startLocked(src TipSource, sink kit.Sender, sched storage.Schedule) {
	c.stopLocked()

	h := &handle{sched: sched, settings: c.settings}
	h.sup = supervisor.New(c.base, supervisor.WithLogger(c.log.With(logx.String("comp", "tipsched"))))
	h.sup.Go0("tips.loop", func(ctx context.Context) {
		c.runLoop(ctx, h, src, sink)
	})
	c.h = h

	c.log.Info("tip loop started",
		logx.Int64("chat_id", sched.ChatID),
		logx.String("at", formatHM(sched.Hour, sched.Minute)),
		logx.String("tz", h.settings.Location.String()),
	)
}

// stopLocked cancels and clears the current loop. Caller holds mu.
func (c *Cell) stopLocked() bool {
	if c.h == nil {
		return false
	}
	c.h.sup.Cancel()
	c.h = nil
	c.log.Info("tip loop stopped")
	return true
}
