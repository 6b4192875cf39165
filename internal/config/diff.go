package config

import (
	"slices"
	"sort"
	"strings"

	logx "tipbot/pkg/logx"
)

// SummarizeConfigChange lists the changed top-level sections and returns
// log fields describing them. Secrets (the bot token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Tips != newCfg.Tips {
		changed = append(changed, "tips")
		attrs = append(attrs,
			logx.String("tips.timezone", strings.TrimSpace(newCfg.Tips.Timezone)),
			logx.String("tips.poll_interval", strings.TrimSpace(newCfg.Tips.PollInterval)),
			logx.String("tips.send_timeout", strings.TrimSpace(newCfg.Tips.SendTimeout)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports sections that only take effect on process restart.
func RequiresRestart(changed []string, oldCfg, newCfg *Config) []string {
	var out []string
	if slices.Contains(changed, "storage") {
		out = append(out, "storage")
	}
	if oldCfg != nil && newCfg != nil &&
		(oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.token/poll_timeout")
	}
	return out
}
