package router

import (
	"sort"
	"strings"

	kit "tipbot/internal/transport"
)

const (
	maxMenuCommands  = 100
	maxMenuDescBytes = 256
)

// sanitizeTelegramCommand maps a route or alias onto Telegram's [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == ' ' || r == '/':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// telegramCommandName joins a route with underscores: ["scheduler","start"] -> "scheduler_start".
func telegramCommandName(route []string) (string, bool) {
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// MenuCommands builds the Telegram command menu: top-level commands first,
// then the underscore shortcuts of subcommands.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	root := r.root
	r.mu.RUnlock()

	type entry struct {
		cmd, desc string
		prio      int
	}
	byCmd := map[string]entry{}
	add := func(cmd, desc string, prio int) {
		cmd = sanitizeTelegramCommand(cmd)
		if cmd == "" {
			return
		}
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = cmd
		}
		if len(desc) > maxMenuDescBytes {
			desc = desc[:maxMenuDescBytes]
		}
		if cur, ok := byCmd[cmd]; ok && cur.prio <= prio {
			return
		}
		byCmd[cmd] = entry{cmd: cmd, desc: desc, prio: prio}
	}

	var walk func(n *cmdNode, path []string)
	walk = func(n *cmdNode, path []string) {
		for _, name := range n.childNames() {
			child, _ := n.child(name)
			p := append(append([]string(nil), path...), name)
			if len(p) == 1 {
				add(name, child.summary(), 0)
			} else if child.cmd != nil {
				menu, _ := telegramCommandName(p)
				add(menu, child.summary(), 1)
			}
			walk(child, p)
		}
	}
	walk(root, nil)

	entries := make([]entry, 0, len(byCmd))
	for _, e := range byCmd {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].prio != entries[j].prio {
			return entries[i].prio < entries[j].prio
		}
		return entries[i].cmd < entries[j].cmd
	})

	out := make([]kit.BotCommand, 0, min(len(entries), maxMenuCommands))
	for _, e := range entries {
		if len(out) == maxMenuCommands {
			break
		}
		out = append(out, kit.BotCommand{Command: e.cmd, Description: e.desc})
	}
	return out
}
