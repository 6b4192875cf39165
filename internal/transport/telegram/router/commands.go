package router

import (
	"context"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"tipbot/internal/runtime/supervisor"
	kit "tipbot/internal/transport"
	logx "tipbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "ping" or "scheduler start".
	Route       string
	Aliases     []string // root-level aliases, e.g. ["tips"]
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched route tokens
	Command string
	Args    []string // positionals after flags were removed
	RawArgs []string

	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Sender kit.Sender
	Logger logx.Logger
}

// Reply sends an HTML message back to the request's chat.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// Flag returns a --key value and whether it was given.
func (r *Request) Flag(key string) (string, bool) {
	v, ok := r.Flags[key]
	return v, ok
}

type Option func(*Router)

// WithWorkers sets the handler worker count (default: NumCPU, at least 2).
func WithWorkers(n int) Option { return func(r *Router) { r.workers = n } }

// WithDefaultTimeout bounds handlers that have no Command.Timeout.
func WithDefaultTimeout(d time.Duration) Option { return func(r *Router) { r.defaultTimeout = d } }

// Router maps "/cmd sub args" messages onto Commands and runs them on a
// bounded worker pool.
type Router struct {
	mu     sync.RWMutex
	root   *cmdNode
	alias  map[string]*cmdNode
	owners []int64

	log    logx.Logger
	sender kit.Sender

	workers        int
	defaultTimeout time.Duration
	jobs           chan func()
}

func New(log logx.Logger, sender kit.Sender, owners []int64, opts ...Option) *Router {
	r := &Router{
		root:           newRoot(),
		alias:          map[string]*cmdNode{},
		owners:         slices.Clone(owners),
		log:            log.With(logx.String("comp", "telegram.router")),
		sender:         sender,
		workers:        defaultWorkers(),
		defaultTimeout: 30 * time.Second,
		jobs:           make(chan func(), 256),
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	return r
}

// SetOwners replaces the owner allowlist. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// SetRegistry installs cmds plus the built-in /help.
func (r *Router) SetRegistry(cmds []Command) {
	cmds = append(slices.Clone(cmds), Command{
		Route:       "help",
		Aliases:     []string{"start"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := root.add(route, c)
		// Multi-token routes also answer to their Telegram menu form
		// ("scheduler start" -> /scheduler_start).
		if len(route) > 1 {
			if menu, ok := telegramCommandName(route); ok {
				alias[menu] = leaf
			}
		}
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	r.mu.Lock()
	r.root = root
	r.alias = alias
	r.mu.Unlock()
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log))
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return r.worker(c, idx)
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				r.routeMessage(ctx, up)
			}
		}
	}
}

func (r *Router) worker(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-r.jobs:
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	r.mu.RLock()
	root, aliases := r.root, r.alias
	r.mu.RUnlock()

	if leaf, ok := aliases[word]; ok && leaf.cmd != nil {
		r.enqueue(ctx, up, *leaf.cmd, splitRoute(leaf.cmd.Route), args)
		return
	}

	cur, ok := root.child(word)
	if !ok {
		r.reply(ctx, chat, "Unknown command. Try /help")
		return
	}
	path := []string{word}
	for len(args) > 0 && !strings.HasPrefix(args[0], "--") {
		next, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = next
		path = append(path, args[0])
		args = args[1:]
	}

	if cur.cmd == nil {
		r.reply(ctx, chat, r.helpText(path))
		return
	}
	r.enqueue(ctx, up, *cur.cmd, path, args)
}

func (r *Router) enqueue(ctx context.Context, up kit.Update, cmd Command, path, raw []string) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		r.reply(ctx, chat, "This command is restricted to bot owners.")
		return
	}

	pos, flags, bools := parseFlags(raw)
	rid := newReqID()
	req := &Request{
		Update:    up,
		Chat:      chat,
		FromID:    msg.FromID,
		Path:      path,
		Command:   cmd.Route,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Sender:    r.sender,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	final := Chain(
		cmd.Handle,
		MWReplyError(),
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)

	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		r.reply(ctx, chat, "Busy, try again in a moment.")
	}
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, html string) {
	if _, err := r.sender.SendText(ctx, to, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
