package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tipbot/internal/tipsched"
	kit "tipbot/internal/transport"
	"tipbot/internal/transport/telegram/router"
	logx "tipbot/pkg/logx"
	"tipbot/pkg/tgui"
)

const notConfiguredMsg = "The daily tip is not configured yet. Use /scheduler_config --chat=here --at=HH:mm first."

// Scheduler exposes tipsched.Start/Stop/Status/Reconfigure as commands.
type Scheduler struct {
	store tipsched.Store
	cell  *tipsched.Cell
	sink  kit.Sender
}

func NewScheduler(store tipsched.Store, cell *tipsched.Cell, sink kit.Sender) *Scheduler {
	return &Scheduler{store: store, cell: cell, sink: sink}
}

func (s *Scheduler) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "scheduler start",
			Description: "start posting the daily tip",
			Usage:       "/scheduler start",
			Access:      router.AccessOwnerOnly,
			Handle:      s.start,
		},
		{
			Route:       "scheduler stop",
			Description: "stop posting the daily tip",
			Usage:       "/scheduler stop",
			Access:      router.AccessOwnerOnly,
			Handle:      s.stop,
		},
		{
			Route:       "scheduler info",
			Description: "show the daily tip schedule",
			Usage:       "/scheduler info",
			Access:      router.AccessOwnerOnly,
			Handle:      s.info,
		},
		{
			Route:       "scheduler_config",
			Description: "set the daily tip chat and time",
			Usage:       "/scheduler_config [--chat=<id>|here] [--at=HH:mm]",
			Access:      router.AccessOwnerOnly,
			Handle:      s.config,
		},
	}
}

func (s *Scheduler) start(ctx context.Context, req *router.Request) error {
	sched, err := tipsched.Start(ctx, s.store, s.cell, s.sink)
	if errors.Is(err, tipsched.ErrNotConfigured) {
		return router.Userf(notConfiguredMsg)
	}
	if err != nil {
		return err
	}
	req.Logger.Info("daily tip started", logx.Int64("target_chat", sched.ChatID))
	return req.Reply(ctx, tgui.JoinH("\n",
		tgui.B("Daily tip started"),
		scheduleLine(sched.ChatID, sched.Hour, sched.Minute),
	).String())
}

func (s *Scheduler) stop(ctx context.Context, req *router.Request) error {
	tipsched.Stop(s.cell)
	req.Logger.Info("daily tip stopped")
	return req.Reply(ctx, tgui.B("Daily tip stopped").String())
}

func (s *Scheduler) info(ctx context.Context, req *router.Request) error {
	st, err := tipsched.Status(ctx, s.store, s.cell)
	if errors.Is(err, tipsched.ErrNotConfigured) {
		return router.Userf(notConfiguredMsg)
	}
	if err != nil {
		return err
	}

	state := "STOPPED"
	if st.Running {
		state = "RUNNING"
	}
	lines := []tgui.H{
		tgui.JoinH(" ", tgui.B("Daily tip:"), tgui.Code(state)),
		scheduleLine(st.ChatID, st.Hour, st.Minute),
		tgui.Esc("Timezone: " + st.Location.String()),
	}
	if st.Running && !st.NextFire.IsZero() {
		lines = append(lines, tgui.Esc("Next: "+st.NextFire.Format("Mon 02 Jan 15:04")+" (in "+untilText(time.Until(st.NextFire))+")"))
	}
	return req.Reply(ctx, tgui.JoinH("\n", lines...).String())
}

func (s *Scheduler) config(ctx context.Context, req *router.Request) error {
	var p tipsched.Partial
	if v, ok := req.Flag("chat"); ok {
		id, err := parseChat(v, req.Chat.ChatID)
		if err != nil {
			return router.Userf("%v", err)
		}
		p.ChatID = &id
	} else if req.BoolFlags["chat"] {
		id := req.Chat.ChatID
		p.ChatID = &id
	}
	if v, ok := req.Flag("at"); ok {
		h, m, err := parseHHMM(v)
		if err != nil {
			return router.Userf("%v", err)
		}
		p.Hour, p.Minute = &h, &m
	}
	if p.Empty() {
		return router.Userf("Usage: /scheduler_config [--chat=<id>|here] [--at=HH:mm]")
	}

	out, err := tipsched.Reconfigure(ctx, s.store, s.cell, s.sink, p)
	var ve *tipsched.ValidationError
	if errors.As(err, &ve) {
		return router.Userf("Invalid %s: %s.", ve.Field, ve.Reason)
	}
	if err != nil {
		return err
	}
	req.Logger.Info("daily tip reconfigured",
		logx.Int64("target_chat", out.ChatID),
		logx.Int("hour", out.Hour),
		logx.Int("minute", out.Minute),
		logx.Bool("restarted", out.Restarted),
	)

	status := "Scheduler is stopped; use /scheduler start to enable it."
	if out.Restarted {
		status = "Scheduler restarted with the new settings."
	}
	return req.Reply(ctx, tgui.JoinH("\n",
		tgui.B("Daily tip configured"),
		scheduleLine(out.ChatID, out.Hour, out.Minute),
		tgui.I(status),
	).String())
}

func scheduleLine(chatID int64, hour, minute int) tgui.H {
	return tgui.JoinH(" ",
		tgui.Esc("Chat"), tgui.Code(fmt.Sprint(chatID)),
		tgui.Esc("at"), tgui.Code(fmt.Sprintf("%02d:%02d", hour, minute)),
	)
}

func untilText(d time.Duration) string {
	d = d.Round(time.Minute)
	if d < time.Minute {
		return "less than a minute"
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}
