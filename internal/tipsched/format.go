package tipsched

import (
	"fmt"
	"strings"

	"tipbot/internal/storage"
	"tipbot/pkg/tgui"
)

// FormatTip renders a tip as Telegram HTML: bold title, content, tag footer.
func FormatTip(t storage.Tip) tgui.H {
	parts := []tgui.H{tgui.B(t.Title), tgui.Esc(t.Content)}
	if tags := t.TagList(); len(tags) > 0 {
		parts = append(parts, tgui.I("#: "+strings.Join(tags, ", ")))
	}
	return tgui.JoinH("\n\n", parts...)
}

func formatHM(hour, minute int) string { return fmt.Sprintf("%02d:%02d", hour, minute) }
