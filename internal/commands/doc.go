// Package commands holds the bot's chat commands: tip CRUD, the daily tip
// scheduler controls and a few liveness helpers. Handlers return
// router.UserError for anything the caller can fix.
package commands
