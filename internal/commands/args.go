package commands

import (
	"fmt"
	"strconv"
	"strings"

	"tipbot/internal/transport/telegram/router"
)

func parseTipID(args []string, usage string) (int64, error) {
	if len(args) == 0 {
		return 0, router.Userf("Usage: %s", usage)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, router.Userf("%q is not a tip id.", args[0])
	}
	return id, nil
}

// parseHHMM parses "9:30" or "09:30" into hour and minute.
func parseHHMM(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%q is not HH:mm", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || len(h) == 0 || len(h) > 2 {
		return 0, 0, fmt.Errorf("%q is not HH:mm", s)
	}
	if len(m) != 2 {
		return 0, 0, fmt.Errorf("%q is not HH:mm", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil {
		return 0, 0, fmt.Errorf("%q is not HH:mm", s)
	}
	return hour, minute, nil
}

// parseChat accepts a numeric chat id or "here" for the current chat.
func parseChat(s string, here int64) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "here") {
		return here, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a chat id (use a number or \"here\")", s)
	}
	return id, nil
}
