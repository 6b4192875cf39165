package tipsched

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"tipbot/internal/eventbus"
	"tipbot/internal/storage"
	kit "tipbot/internal/transport"
	logx "tipbot/pkg/logx"
	"tipbot/pkg/tgui"
)

// Event types published on the bus.
const (
	EventFired      = "tips.fired"
	EventFireFailed = "tips.fire_failed"
)

// FireEvent is the Data of EventFired and EventFireFailed.
type FireEvent struct {
	ChatID int64
	TipID  int64
	Err    string
}

// TipSource is the read side the loop needs from the tip store.
type TipSource interface {
	ListTips(ctx context.Context) ([]storage.Tip, error)
}

func (c *Cell) runLoop(ctx context.Context, h *handle, src TipSource, sink kit.Sender) {
	log := c.log.With(
		logx.String("comp", "tipsched"),
		logx.Int64("chat_id", h.sched.ChatID),
		logx.String("at", formatHM(h.sched.Hour, h.sched.Minute)),
	)
	t := time.NewTicker(h.settings.PollInterval)
	defer t.Stop()

	for {
		c.tick(ctx, log, h, src, sink)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (c *Cell) tick(ctx context.Context, log logx.Logger, h *handle, src TipSource, sink kit.Sender) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("tip tick panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	if ctx.Err() != nil {
		return
	}
	now := c.now().In(h.settings.Location)
	if !matches(now, h.sched) {
		return
	}
	c.fire(ctx, log, h, src, sink)
}

func matches(now time.Time, s storage.Schedule) bool {
	return now.Hour() == s.Hour && now.Minute() == s.Minute
}

// fire delivers one random tip. Every failure ends here: it is reported to
// the chat on a best-effort basis and never stops the loop.
func (c *Cell) fire(ctx context.Context, log logx.Logger, h *handle, src TipSource, sink kit.Sender) {
	to := kit.ChatTarget{ChatID: h.sched.ChatID}

	tips, err := src.ListTips(ctx)
	if err != nil {
		c.fireFailed(ctx, log, h, sink, fmt.Errorf("fetch tips: %w", err))
		return
	}
	if len(tips) == 0 {
		c.fireFailed(ctx, log, h, sink, ErrNoTips)
		return
	}

	tip := tips[c.pick(len(tips))]
	sendCtx, cancel := context.WithTimeout(ctx, h.settings.SendTimeout)
	_, err = sink.SendText(sendCtx, to, FormatTip(tip).String(), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	cancel()
	if err != nil {
		c.fireFailed(ctx, log, h, sink, &DeliveryError{ChatID: to.ChatID, Err: err})
		return
	}

	log.Info("tip delivered", logx.Int64("tip_id", tip.ID))
	c.publish(EventFired, FireEvent{ChatID: to.ChatID, TipID: tip.ID})
}

func (c *Cell) fireFailed(ctx context.Context, log logx.Logger, h *handle, sink kit.Sender, cause error) {
	if ctx.Err() != nil && errors.Is(cause, context.Canceled) {
		return
	}
	log.Warn("tip firing failed", logx.Err(cause))
	c.publish(EventFireFailed, FireEvent{ChatID: h.sched.ChatID, Err: cause.Error()})

	sendCtx, cancel := context.WithTimeout(ctx, h.settings.SendTimeout)
	defer cancel()
	msg := diagnostic(cause)
	if _, err := sink.SendText(sendCtx, kit.ChatTarget{ChatID: h.sched.ChatID}, msg.String(), &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		log.Error("tip diagnostic not delivered", logx.Err(err))
	}
}

func (c *Cell) publish(typ string, data FireEvent) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func diagnostic(cause error) tgui.H {
	if errors.Is(cause, ErrNoTips) {
		return tgui.JoinH("\n", tgui.B("Daily tip skipped"), tgui.Esc("No tips stored yet. Add one with /tips_create."))
	}
	return tgui.JoinH("\n", tgui.B("Daily tip failed"), tgui.Code(tgui.TruncRunes(cause.Error(), 300)))
}
