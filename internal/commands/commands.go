package commands

import (
	"time"

	"tipbot/internal/storage"
	"tipbot/internal/tipsched"
	kit "tipbot/internal/transport"
	"tipbot/internal/transport/telegram/router"
)

// Deps is everything the command set needs.
type Deps struct {
	Store     storage.Store
	Cell      *tipsched.Cell
	Sink      kit.Sender
	StartedAt time.Time
}

// All returns the full registry, ready for router.SetRegistry.
func All(d Deps) []router.Command {
	var out []router.Command
	out = append(out, NewSystem(d.StartedAt).Commands()...)
	out = append(out, NewTips(d.Store).Commands()...)
	out = append(out, NewScheduler(d.Store, d.Cell, d.Sink).Commands()...)
	return out
}
