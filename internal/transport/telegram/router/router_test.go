package router

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	kit "tipbot/internal/transport"
	logx "tipbot/pkg/logx"
)

type recSender struct {
	mu   sync.Mutex
	ch   chan string
	sent []string
}

func newRecSender() *recSender { return &recSender{ch: make(chan string, 32)} }

func (s *recSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	s.ch <- text
	return kit.MessageRef{}, nil
}

func (s *recSender) next(t *testing.T) string {
	t.Helper()
	select {
	case m := <-s.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply")
		return ""
	}
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 10, FromID: from, Text: text}}
}

func startRouter(t *testing.T, cmds []Command, owners ...int64) (*recSender, chan kit.Update) {
	t.Helper()
	s := newRecSender()
	r := New(logx.Nop(), s, owners, WithWorkers(2))
	r.SetRegistry(cmds)
	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, updates
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want []string
	}{
		{in: `/ping`, want: []string{"/ping"}},
		{in: `/tips_create "Wrap errors" 'use %w' go,errors`, want: []string{"/tips_create", "Wrap errors", "use %w", "go,errors"}},
		{in: `/a b\ c`, want: []string{"/a", "b c"}},
		{in: `/a "" x`, want: []string{"/a", "", "x"}},
		{in: "   ", want: nil},
	}
	for _, tc := range cases {
		if got := tokenizeCommandLine(tc.in); !slices.Equal(got, tc.want) {
			t.Fatalf("tokenize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"7", "--title=New", "--chat", "-100123", "--dry", "--", "--literal"})
	if !slices.Equal(pos, []string{"7", "--literal"}) {
		t.Fatalf("pos = %q", pos)
	}
	if flags["title"] != "New" || flags["chat"] != "-100123" {
		t.Fatalf("flags = %v", flags)
	}
	if !bools["dry"] {
		t.Fatalf("bools = %v", bools)
	}
}

func TestRoutesSubcommandsAndAliases(t *testing.T) {
	t.Parallel()
	got := make(chan *Request, 4)
	h := func(_ context.Context, req *Request) error {
		got <- req
		return nil
	}
	_, updates := startRouter(t, []Command{
		{Route: "scheduler start", Handle: h},
		{Route: "tips_list", Aliases: []string{"tips"}, Handle: h},
	})

	updates <- msg(1, "/scheduler start --at=09:30")
	req := <-got
	if req.Command != "scheduler start" || req.Flags["at"] != "09:30" {
		t.Fatalf("req = %+v", req)
	}

	updates <- msg(1, "/scheduler_start@tipbot")
	if req := <-got; req.Command != "scheduler start" {
		t.Fatalf("menu alias routed to %q", req.Command)
	}

	updates <- msg(1, "/tips go db")
	req = <-got
	if req.Command != "tips_list" || !slices.Equal(req.Args, []string{"go", "db"}) {
		t.Fatalf("alias req = %+v", req)
	}
}

func TestOwnerOnlyCommands(t *testing.T) {
	t.Parallel()
	ran := make(chan struct{}, 1)
	s, updates := startRouter(t, []Command{{
		Route:  "tips_delete",
		Access: AccessOwnerOnly,
		Handle: func(context.Context, *Request) error { ran <- struct{}{}; return nil },
	}}, 42)

	updates <- msg(7, "/tips_delete 1")
	if reply := s.next(t); !strings.Contains(reply, "restricted") {
		t.Fatalf("reply = %q", reply)
	}

	updates <- msg(42, "/tips_delete 1")
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("owner command did not run")
	}
}

func TestHandlerErrorsAreReplied(t *testing.T) {
	t.Parallel()
	s, updates := startRouter(t, []Command{
		{Route: "bad", Handle: func(context.Context, *Request) error { return Userf("tip %d not found", 3) }},
		{Route: "boom", Handle: func(context.Context, *Request) error { return errors.New("db exploded") }},
		{Route: "panic", Handle: func(context.Context, *Request) error { panic("oops") }},
	})

	updates <- msg(1, "/bad")
	if reply := s.next(t); reply != "tip 3 not found" {
		t.Fatalf("user error reply = %q", reply)
	}
	updates <- msg(1, "/boom")
	if reply := s.next(t); strings.Contains(reply, "exploded") || !strings.Contains(reply, "Something went wrong") {
		t.Fatalf("internal error leaked: %q", reply)
	}
	updates <- msg(1, "/panic")
	if reply := s.next(t); !strings.Contains(reply, "Something went wrong") {
		t.Fatalf("panic reply = %q", reply)
	}
}

func TestUnknownCommandAndHelp(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *Request) error { return nil }
	s, updates := startRouter(t, []Command{
		{Route: "ping", Description: "liveness check", Handle: noop},
		{Route: "scheduler stop", Description: "stop daily tips", Access: AccessOwnerOnly, Handle: noop},
	})

	updates <- msg(1, "/nope")
	if reply := s.next(t); !strings.Contains(reply, "Unknown command") {
		t.Fatalf("reply = %q", reply)
	}

	updates <- msg(1, "/help")
	reply := s.next(t)
	if !strings.Contains(reply, "<code>/ping</code>") || !strings.Contains(reply, "🔒 <code>/scheduler</code>") {
		t.Fatalf("help = %q", reply)
	}
	if strings.Index(reply, "/ping") > strings.Index(reply, "/scheduler") {
		t.Fatalf("owner commands should be listed last: %q", reply)
	}

	updates <- msg(1, "/scheduler")
	if reply := s.next(t); !strings.Contains(reply, "/scheduler stop") {
		t.Fatalf("group help = %q", reply)
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, *Request) error { return nil }
	r := New(logx.Nop(), newRecSender(), nil)
	r.SetRegistry([]Command{
		{Route: "ping", Description: "pong", Handle: noop},
		{Route: "scheduler start", Description: "start", Handle: noop},
		{Route: "scheduler info", Description: "info", Handle: noop},
	})
	var names []string
	for _, c := range r.MenuCommands() {
		names = append(names, c.Command)
	}
	want := []string{"help", "ping", "scheduler", "scheduler_info", "scheduler_start"}
	if !slices.Equal(names, want) {
		t.Fatalf("menu = %v, want %v", names, want)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"Tips-List":             "tips_list",
		"scheduler start":       "scheduler_start",
		"1st":                   "cmd_1st",
		"__x__":                 "x",
		strings.Repeat("a", 40): strings.Repeat("a", 32),
	}
	for in, want := range cases {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
