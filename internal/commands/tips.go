package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tipbot/internal/storage"
	"tipbot/internal/tipsched"
	"tipbot/internal/transport/telegram/router"
	"tipbot/pkg/tgui"
)

const maxListTitleRunes = 80

// Tips serves the tip CRUD commands.
type Tips struct {
	store storage.TipStore
}

func NewTips(store storage.TipStore) *Tips { return &Tips{store: store} }

func (t *Tips) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "tips_create",
			Description: "add a tip",
			Usage:       `/tips_create "<title>" "<content>" [tag1,tag2]`,
			Access:      router.AccessOwnerOnly,
			Handle:      t.create,
		},
		{
			Route:       "tips_read",
			Aliases:     []string{"tip"},
			Description: "show one tip",
			Usage:       "/tips_read <id>",
			Access:      router.AccessEveryone,
			Handle:      t.read,
		},
		{
			Route:       "tips_list",
			Aliases:     []string{"tips"},
			Description: "list tips, optionally by tag",
			Usage:       "/tips_list [tag1,tag2]",
			Access:      router.AccessEveryone,
			Handle:      t.list,
		},
		{
			Route:       "tips_update",
			Description: "edit a tip",
			Usage:       `/tips_update <id> [--title="..."] [--content="..."] [--tags=a,b]`,
			Access:      router.AccessOwnerOnly,
			Handle:      t.update,
		},
		{
			Route:       "tips_delete",
			Description: "delete a tip",
			Usage:       "/tips_delete <id>",
			Access:      router.AccessOwnerOnly,
			Handle:      t.delete,
		},
	}
}

func (t *Tips) create(ctx context.Context, req *router.Request) error {
	const usage = `/tips_create "<title>" "<content>" [tag1,tag2]`
	if len(req.Args) < 2 {
		return router.Userf("Usage: %s", usage)
	}
	tip := storage.Tip{
		Title:   strings.TrimSpace(req.Args[0]),
		Content: strings.TrimSpace(req.Args[1]),
		Tags:    strings.Join(req.Args[2:], ","),
	}
	if v, ok := req.Flag("tags"); ok {
		tip.Tags = v
	}
	if tip.Title == "" || tip.Content == "" {
		return router.Userf("Title and content must not be empty.")
	}

	created, err := t.store.CreateTip(ctx, tip)
	if errors.Is(err, storage.ErrDuplicate) {
		return router.Userf("A tip titled %q already exists.", tip.Title)
	}
	if err != nil {
		return fmt.Errorf("create tip: %w", err)
	}
	req.Logger.Info("tip created", logTipID(created.ID))
	return req.Reply(ctx, tgui.JoinH("\n\n",
		tgui.Esc(fmt.Sprintf("Tip #%d created.", created.ID)),
		tipsched.FormatTip(created),
	).String())
}

func (t *Tips) read(ctx context.Context, req *router.Request) error {
	id, err := parseTipID(req.Args, "/tips_read <id>")
	if err != nil {
		return err
	}
	tip, err := t.store.GetTip(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return router.Userf("Tip #%d not found.", id)
	}
	if err != nil {
		return fmt.Errorf("read tip %d: %w", id, err)
	}
	return req.Reply(ctx, tipsched.FormatTip(tip).String())
}

func (t *Tips) list(ctx context.Context, req *router.Request) error {
	tags := storage.SplitTags(strings.Join(req.Args, ","))
	tips, err := t.store.ListTipsByTags(ctx, tags)
	if err != nil {
		return fmt.Errorf("list tips: %w", err)
	}
	if len(tips) == 0 {
		if len(tags) > 0 {
			return req.Reply(ctx, tgui.Esc("No tips tagged "+strings.Join(tags, ", ")+".").String())
		}
		return req.Reply(ctx, tgui.Esc("No tips yet. Add one with /tips_create.").String())
	}

	lines := make([]tgui.H, 0, len(tips)+1)
	lines = append(lines, tgui.B(fmt.Sprintf("Tips (%d)", len(tips))))
	for _, tip := range tips {
		line := tgui.JoinH(" ", tgui.Code(fmt.Sprintf("#%d", tip.ID)), tgui.Esc(tgui.TruncRunes(tip.Title, maxListTitleRunes)))
		if tip.Tags != "" {
			line = tgui.JoinH(" ", line, tgui.I("["+tip.Tags+"]"))
		}
		lines = append(lines, line)
	}
	return req.Reply(ctx, tgui.JoinH("\n", lines...).String())
}

func (t *Tips) update(ctx context.Context, req *router.Request) error {
	id, err := parseTipID(req.Args, `/tips_update <id> [--title="..."] [--content="..."] [--tags=a,b]`)
	if err != nil {
		return err
	}
	var p storage.TipPatch
	if v, ok := req.Flag("title"); ok {
		v = strings.TrimSpace(v)
		if v == "" {
			return router.Userf("Title must not be empty.")
		}
		p.Title = &v
	}
	if v, ok := req.Flag("content"); ok {
		v = strings.TrimSpace(v)
		if v == "" {
			return router.Userf("Content must not be empty.")
		}
		p.Content = &v
	}
	if v, ok := req.Flag("tags"); ok {
		p.Tags = &v
	}
	if p.Empty() {
		return router.Userf("Nothing to update. Pass --title, --content or --tags.")
	}

	tip, err := t.store.UpdateTip(ctx, id, p)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return router.Userf("Tip #%d not found.", id)
	case errors.Is(err, storage.ErrDuplicate):
		return router.Userf("A tip titled %q already exists.", *p.Title)
	case err != nil:
		return fmt.Errorf("update tip %d: %w", id, err)
	}
	req.Logger.Info("tip updated", logTipID(id))
	return req.Reply(ctx, tgui.JoinH("\n\n", tgui.Esc(fmt.Sprintf("Tip #%d updated.", id)), tipsched.FormatTip(tip)).String())
}

func (t *Tips) delete(ctx context.Context, req *router.Request) error {
	id, err := parseTipID(req.Args, "/tips_delete <id>")
	if err != nil {
		return err
	}
	err = t.store.DeleteTip(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return router.Userf("Tip #%d not found.", id)
	}
	if err != nil {
		return fmt.Errorf("delete tip %d: %w", id, err)
	}
	req.Logger.Info("tip deleted", logTipID(id))
	return req.Reply(ctx, tgui.Esc(fmt.Sprintf("Tip #%d deleted.", id)).String())
}
