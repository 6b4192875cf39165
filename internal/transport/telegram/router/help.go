package router

import (
	"sort"
	"strings"

	"tipbot/pkg/tgui"
)

// helpText renders /help (no path) or /help <cmd> [sub] as Telegram HTML.
func (r *Router) helpText(path []string) string {
	r.mu.RLock()
	root, aliases := r.root, r.alias
	r.mu.RUnlock()

	if len(path) == 0 {
		return helpTop(root).String()
	}

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.TrimPrefix(p, "/")
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := aliases[p]; ok && leaf.cmd != nil {
				cur, full = leaf, splitRoute(leaf.cmd.Route)
				break
			}
			return tgui.JoinH("\n", tgui.B("Unknown command"), tgui.Esc("Type /help to list commands.")).String()
		}
		cur = n
		full = append(full, p)
	}
	return helpNode(cur, full).String()
}

func helpTop(root *cmdNode) tgui.H {
	type row struct {
		name, desc string
		lock       bool
	}
	rows := make([]row, 0, len(root.children))
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, row{name: name, desc: n.summary(), lock: n.ownerOnly()})
	}
	// Public commands first, owner commands below, alphabetical within each.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return !rows[i].lock
		}
		return rows[i].name < rows[j].name
	})

	lines := []tgui.H{tgui.B("Commands"), tgui.Esc("Type /help <command> for details."), ""}
	for _, rw := range rows {
		lines = append(lines, bullet("/"+rw.name, rw.desc, rw.lock))
	}
	return tgui.JoinH("\n", lines...)
}

func helpNode(cur *cmdNode, full []string) tgui.H {
	lines := []tgui.H{tgui.JoinH(" ", tgui.B("Help"), tgui.Code("/"+strings.Join(full, " ")))}

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, tgui.Esc(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, tgui.I("owner only"))
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, tgui.B("Usage"), tgui.Code(u))
		}
		if short := shortcuts(*c); len(short) > 0 {
			lines = append(lines, tgui.B("Shortcuts"))
			for _, s := range short {
				lines = append(lines, bullet("/"+s, "", false))
			}
		}
	}

	if len(cur.children) > 0 {
		lines = append(lines, tgui.B("Subcommands"))
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			lines = append(lines, bullet("/"+strings.Join(append(append([]string(nil), full...), name), " "), n.summary(), n.ownerOnly()))
		}
	}
	return tgui.JoinH("\n", lines...)
}

func bullet(cmd, desc string, lock bool) tgui.H {
	prefix := tgui.Raw("• ")
	if lock {
		prefix = tgui.Raw("• 🔒 ")
	}
	line := prefix + tgui.Code(cmd)
	if desc != "" {
		line += tgui.Esc(" - " + desc)
	}
	return line
}

func shortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	if route := splitRoute(c.Route); len(route) > 1 {
		if menu, ok := telegramCommandName(route); ok {
			seen[menu] = true
			out = append(out, menu)
		}
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}
