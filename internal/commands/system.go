package commands

import (
	"context"
	"time"

	"tipbot/internal/transport/telegram/router"
	logx "tipbot/pkg/logx"
	"tipbot/pkg/tgui"
)

// System serves liveness commands.
type System struct {
	startedAt time.Time
}

func NewSystem(startedAt time.Time) *System { return &System{startedAt: startedAt} }

func (s *System) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "ping",
			Description: "check the bot is alive",
			Usage:       "/ping",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, "pong")
			},
		},
		{
			Route:       "uptime",
			Description: "show how long the bot has been running",
			Usage:       "/uptime",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, tgui.JoinH(" ", tgui.Esc("uptime:"), tgui.Code(untilText(time.Since(s.startedAt)))).String())
			},
		},
	}
}

func logTipID(id int64) logx.Field { return logx.Int64("tip_id", id) }
