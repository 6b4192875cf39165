package tipsched

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tipbot/internal/eventbus"
	"tipbot/internal/storage"
	kit "tipbot/internal/transport"
)

type sentMsg struct {
	ChatID int64
	Text   string
}

type fakeSink struct {
	mu    sync.Mutex
	msgs  []sentMsg
	ch    chan sentMsg
	fail  error
	panik bool
}

func newFakeSink() *fakeSink { return &fakeSink{ch: make(chan sentMsg, 256)} }

func (s *fakeSink) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	m := sentMsg{ChatID: to.ChatID, Text: text}
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	fail, panik := s.fail, s.panik
	s.mu.Unlock()
	select {
	case s.ch <- m:
	default:
	}
	if panik {
		panic("sink exploded")
	}
	if fail != nil && !strings.Contains(text, "Daily tip") {
		return kit.MessageRef{}, fail
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (s *fakeSink) sent() []sentMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMsg(nil), s.msgs...)
}

func (s *fakeSink) wait(t *testing.T) sentMsg {
	t.Helper()
	select {
	case m := <-s.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a message")
		return sentMsg{}
	}
}

// countingStore counts SaveSchedule calls and can fail loads.
type countingStore struct {
	storage.Store
	saves   atomic.Int32
	loadErr error
	listErr error
}

func (s *countingStore) SaveSchedule(ctx context.Context, sc storage.Schedule) error {
	s.saves.Add(1)
	return s.Store.SaveSchedule(ctx, sc)
}

func (s *countingStore) LoadSchedule(ctx context.Context) (storage.Schedule, error) {
	if s.loadErr != nil {
		return storage.Schedule{}, s.loadErr
	}
	return s.Store.LoadSchedule(ctx)
}

func (s *countingStore) ListTips(ctx context.Context) ([]storage.Tip, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListTips(ctx)
}

func at(h, m int) time.Time { return time.Date(2026, 3, 14, h, m, 0, 0, time.UTC) }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newTestCell(t *testing.T, now func() time.Time, opts ...Option) *Cell {
	t.Helper()
	opts = append([]Option{
		WithSettings(Settings{Location: time.UTC, PollInterval: time.Millisecond, SendTimeout: time.Second}),
		WithClock(now),
	}, opts...)
	c := NewCell(context.Background(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func configured(t *testing.T, sc storage.Schedule, tips ...storage.Tip) *countingStore {
	t.Helper()
	st := &countingStore{Store: storage.NewMemory()}
	ctx := context.Background()
	if sc != (storage.Schedule{}) {
		if err := st.Store.SaveSchedule(ctx, sc); err != nil {
			t.Fatalf("seed schedule: %v", err)
		}
	}
	for _, tip := range tips {
		if _, err := st.CreateTip(ctx, tip); err != nil {
			t.Fatalf("seed tip: %v", err)
		}
	}
	return st
}

func i64(v int64) *int64 { return &v }
func iptr(v int) *int    { return &v }

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	st := configured(t, storage.Schedule{ChatID: 42, Hour: 8, Minute: 0})
	cell := newTestCell(t, fixedClock(at(12, 0)))

	Stop(cell)
	Stop(cell)
	if cell.IsRunning() {
		t.Fatalf("stopped cell reports running")
	}

	if _, err := Start(context.Background(), st, cell, newFakeSink()); err != nil {
		t.Fatalf("start: %v", err)
	}
	Stop(cell)
	Stop(cell)
	if cell.IsRunning() {
		t.Fatalf("cell still running after stop")
	}
	if _, ok := cell.Captured(); ok {
		t.Fatalf("captured schedule left after stop")
	}
}

func TestStartRequiresConfiguration(t *testing.T) {
	t.Parallel()
	st := configured(t, storage.Schedule{})
	cell := newTestCell(t, fixedClock(at(12, 0)))

	_, err := Start(context.Background(), st, cell, newFakeSink())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("start err = %v, want ErrNotConfigured", err)
	}
	if cell.IsRunning() {
		t.Fatalf("handle set after failed start")
	}
	if _, err := Status(context.Background(), st, cell); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("status err = %v, want ErrNotConfigured", err)
	}
}

func TestReconfigureRestartsOnlyWhenRunning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("running", func(t *testing.T) {
		st := configured(t, storage.Schedule{ChatID: 42, Hour: 8, Minute: 0})
		cell := newTestCell(t, fixedClock(at(12, 0)))
		if _, err := Start(ctx, st, cell, newFakeSink()); err != nil {
			t.Fatalf("start: %v", err)
		}

		out, err := Reconfigure(ctx, st, cell, newFakeSink(), Partial{Hour: iptr(21)})
		if err != nil {
			t.Fatalf("reconfigure: %v", err)
		}
		if !out.Restarted {
			t.Fatalf("expected restart")
		}
		want := storage.Schedule{ChatID: 42, Hour: 21, Minute: 0}
		if out.Schedule != want {
			t.Fatalf("outcome = %+v, want %+v", out.Schedule, want)
		}
		got, ok := cell.Captured()
		if !ok || got != want {
			t.Fatalf("captured = %+v (ok=%v), want %+v", got, ok, want)
		}
	})

	t.Run("stopped", func(t *testing.T) {
		st := configured(t, storage.Schedule{ChatID: 42, Hour: 8, Minute: 0})
		cell := newTestCell(t, fixedClock(at(12, 0)))

		out, err := Reconfigure(ctx, st, cell, newFakeSink(), Partial{Minute: iptr(15)})
		if err != nil {
			t.Fatalf("reconfigure: %v", err)
		}
		if out.Restarted || cell.IsRunning() {
			t.Fatalf("stopped scheduler was started: %+v", out)
		}
		if out.Minute != 15 {
			t.Fatalf("minute not saved: %+v", out)
		}
	})
}

func TestReconfigureMergesPartial(t *testing.T) {
	t.Parallel()
	st := configured(t, storage.Schedule{ChatID: 42, Hour: 8, Minute: 0})
	cell := newTestCell(t, fixedClock(at(12, 0)))

	out, err := Reconfigure(context.Background(), st, cell, nil, Partial{Hour: iptr(9), Minute: iptr(30)})
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	want := storage.Schedule{ChatID: 42, Hour: 9, Minute: 30}
	if out.Schedule != want {
		t.Fatalf("merged = %+v, want %+v", out.Schedule, want)
	}
	saved, err := st.LoadSchedule(context.Background())
	if err != nil || saved != want {
		t.Fatalf("saved = %+v err=%v", saved, err)
	}
}

func TestReconfigureRejectsIncompleteFirstConfig(t *testing.T) {
	t.Parallel()
	st := configured(t, storage.Schedule{})
	cell := newTestCell(t, fixedClock(at(12, 0)))

	_, err := Reconfigure(context.Background(), st, cell, nil, Partial{Hour: iptr(9), Minute: iptr(30)})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "chat" {
		t.Fatalf("err = %v, want chat ValidationError", err)
	}
	if n := st.saves.Load(); n != 0 {
		t.Fatalf("%d writes performed, want 0", n)
	}
	if _, err := st.LoadSchedule(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("schedule was written: err=%v", err)
	}

	out, err := Reconfigure(context.Background(), st, cell, nil, Partial{ChatID: i64(-100), Hour: iptr(9), Minute: iptr(30)})
	if err != nil {
		t.Fatalf("complete first config: %v", err)
	}
	if out.Schedule != (storage.Schedule{ChatID: -100, Hour: 9, Minute: 30}) {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestReconfigureValidatesRanges(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		p     Partial
		field string
	}{
		{name: "hour high", p: Partial{Hour: iptr(24)}, field: "hour"},
		{name: "hour negative", p: Partial{Hour: iptr(-1)}, field: "hour"},
		{name: "minute high", p: Partial{Minute: iptr(60)}, field: "minute"},
		{name: "zero chat", p: Partial{ChatID: i64(0)}, field: "chat"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := configured(t, storage.Schedule{ChatID: 42, Hour: 8, Minute: 0})
			cell := newTestCell(t, fixedClock(at(12, 0)))
			_, err := Reconfigure(context.Background(), st, cell, nil, tc.p)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("err = %v, want %s ValidationError", err, tc.field)
			}
			if st.saves.Load() != 0 {
				t.Fatalf("invalid update was written")
			}
		})
	}
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk gone")
	st := configured(t, storage.Schedule{ChatID: 42, Hour: 8, Minute: 0})
	st.loadErr = boom
	cell := newTestCell(t, fixedClock(at(12, 0)))

	for name, call := range map[string]func() error{
		"start": func() error { _, err := Start(context.Background(), st, cell, nil); return err },
		"status": func() error { _, err := Status(context.Background(), st, cell); return err },
		"reconfigure": func() error {
			_, err := Reconfigure(context.Background(), st, cell, nil, Partial{Hour: iptr(1)})
			return err
		},
	} {
		err := call()
		var se *StoreError
		if !errors.As(err, &se) || !errors.Is(err, boom) {
			t.Fatalf("%s: err = %v, want StoreError wrapping %v", name, err, boom)
		}
	}
	if cell.IsRunning() {
		t.Fatalf("handle set after store failure")
	}
}

func TestLoopFiresOnlyOnMatchingMinute(t *testing.T) {
	t.Parallel()
	st := configured(t, storage.Schedule{ChatID: 42, Hour: 9, Minute: 0},
		storage.Tip{Title: "Wrap errors", Content: "use %w", Tags: "go"},
	)

	times := []time.Time{at(8, 58), at(8, 59), at(9, 0), at(9, 1), at(9, 2), at(21, 0)}
	var (
		mu   sync.Mutex
		idx  int
		done = make(chan struct{})
		once sync.Once
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		if idx >= len(times) {
			once.Do(func() { close(done) })
			return at(23, 59)
		}
		tm := times[idx]
		idx++
		return tm
	}

	sink := newFakeSink()
	cell := newTestCell(t, clock)
	if _, err := Start(context.Background(), st, cell, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not consume the clock")
	}
	Stop(cell)

	got := sink.sent()
	if len(got) != 1 {
		t.Fatalf("sent %d messages, want 1: %+v", len(got), got)
	}
	if got[0].ChatID != 42 {
		t.Fatalf("sent to %d, want 42", got[0].ChatID)
	}
	if !strings.Contains(got[0].Text, "<b>Wrap errors</b>") || !strings.Contains(got[0].Text, "#: go") {
		t.Fatalf("unexpected tip text: %q", got[0].Text)
	}
}

func TestEmptyTipSetSendsDiagnostic(t *testing.T) {
	t.Parallel()
	st := configured(t, storage.Schedule{ChatID: 42, Hour: 9, Minute: 0})
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	sink := newFakeSink()
	cell := newTestCell(t, fixedClock(at(9, 0)), WithBus(bus))
	if _, err := Start(context.Background(), st, cell, sink); err != nil {
		t.Fatalf("start: %v", err)
	}

	m := sink.wait(t)
	if m.ChatID != 42 || !strings.Contains(m.Text, "No tips stored") {
		t.Fatalf("diagnostic = %+v", m)
	}
	sink.wait(t) // the loop keeps ticking

	state, err := Status(context.Background(), st, cell)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !state.Running {
		t.Fatalf("loop died after empty tip set")
	}

	select {
	case ev := <-events:
		if ev.Type != EventFireFailed {
			t.Fatalf("event = %q, want %q", ev.Type, EventFireFailed)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event published")
	}
}

func TestFetchAndDeliveryFailuresKeepLoopAlive(t *testing.T) {
	t.Parallel()

	t.Run("fetch", func(t *testing.T) {
		st := configured(t, storage.Schedule{ChatID: 7, Hour: 9, Minute: 0})
		st.listErr = errors.New("db locked")
		sink := newFakeSink()
		cell := newTestCell(t, fixedClock(at(9, 0)))
		if _, err := Start(context.Background(), st, cell, sink); err != nil {
			t.Fatalf("start: %v", err)
		}
		m := sink.wait(t)
		if !strings.Contains(m.Text, "db locked") {
			t.Fatalf("diagnostic = %q", m.Text)
		}
		sink.wait(t)
		if !cell.IsRunning() {
			t.Fatalf("loop stopped after fetch failure")
		}
	})

	t.Run("delivery", func(t *testing.T) {
		st := configured(t, storage.Schedule{ChatID: 7, Hour: 9, Minute: 0}, storage.Tip{Title: "t", Content: "c"})
		sink := newFakeSink()
		sink.fail = errors.New("chat not found")
		cell := newTestCell(t, fixedClock(at(9, 0)))
		if _, err := Start(context.Background(), st, cell, sink); err != nil {
			t.Fatalf("start: %v", err)
		}
		sink.wait(t) // the tip itself
		m := sink.wait(t)
		if !strings.Contains(m.Text, "chat not found") {
			t.Fatalf("diagnostic = %q", m.Text)
		}
		if !cell.IsRunning() {
			t.Fatalf("loop stopped after delivery failure")
		}
	})
}

func TestTickPanicIsRecovered(t *testing.T) {
	t.Parallel()
	st := configured(t, storage.Schedule{ChatID: 7, Hour: 9, Minute: 0}, storage.Tip{Title: "t", Content: "c"})
	sink := newFakeSink()
	sink.panik = true
	cell := newTestCell(t, fixedClock(at(9, 0)))
	if _, err := Start(context.Background(), st, cell, sink); err != nil {
		t.Fatalf("start: %v", err)
	}
	sink.wait(t)
	sink.wait(t)
	if !cell.IsRunning() {
		t.Fatalf("loop died after a panicking tick")
	}
}

func TestConcurrentStartStop(t *testing.T) {
	t.Parallel()
	st := configured(t, storage.Schedule{ChatID: 42, Hour: 8, Minute: 0})
	cell := newTestCell(t, fixedClock(at(12, 0)))
	sink := newFakeSink()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := Start(context.Background(), st, cell, sink); err != nil {
				t.Errorf("start: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			Stop(cell)
			_ = cell.IsRunning()
		}()
	}
	wg.Wait()

	running := cell.IsRunning()
	_, captured := cell.Captured()
	if running != captured {
		t.Fatalf("running=%v but captured=%v", running, captured)
	}
	Stop(cell)
	if cell.IsRunning() {
		t.Fatalf("running after final stop")
	}
}

func TestShutdownWaitsForLoop(t *testing.T) {
	t.Parallel()
	st := configured(t, storage.Schedule{ChatID: 42, Hour: 8, Minute: 0})
	cell := newTestCell(t, fixedClock(at(12, 0)))
	if _, err := Start(context.Background(), st, cell, newFakeSink()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := cell.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if cell.IsRunning() {
		t.Fatalf("running after shutdown")
	}
}

func TestStatusReportsNextFire(t *testing.T) {
	t.Parallel()
	st := configured(t, storage.Schedule{ChatID: 42, Hour: 9, Minute: 30})
	cell := newTestCell(t, fixedClock(at(12, 0)))

	state, err := Status(context.Background(), st, cell)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if state.Running {
		t.Fatalf("never started but running")
	}
	want := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	if !state.NextFire.Equal(want) {
		t.Fatalf("next fire = %v, want %v", state.NextFire, want)
	}
}

func TestNextFire(t *testing.T) {
	t.Parallel()
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	cases := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{name: "later today", now: at(8, 0), loc: time.UTC, want: at(9, 30)},
		{name: "current minute counts", now: at(9, 30).Add(20 * time.Second), loc: time.UTC, want: at(9, 30)},
		{name: "tomorrow", now: at(9, 31), loc: time.UTC, want: at(9, 30).AddDate(0, 0, 1)},
		{name: "zone", now: at(6, 0), loc: paris, want: time.Date(2026, 3, 14, 9, 30, 0, 0, paris)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextFire(storage.Schedule{Hour: 9, Minute: 30}, tc.now, tc.loc)
			if !got.Equal(tc.want) {
				t.Fatalf("NextFire = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFormatTip(t *testing.T) {
	t.Parallel()
	got := FormatTip(storage.Tip{Title: "a<b", Content: "x & y", Tags: "go,db"}).String()
	want := "<b>a&lt;b</b>\n\nx &amp; y\n\n<i>#: go, db</i>"
	if got != want {
		t.Fatalf("FormatTip = %q, want %q", got, want)
	}
	if got := FormatTip(storage.Tip{Title: "t", Content: "c"}).String(); strings.Contains(got, "#:") {
		t.Fatalf("tag footer without tags: %q", got)
	}
}
