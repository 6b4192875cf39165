// Package storage is the bot's persistence layer.
//
// It holds two collections:
//   - tips: short title/content/tags records
//   - scheduler_config: the singleton {chat, hour, minute} row of the daily tip
//
// Every driver serializes access: SQLite runs on a single pooled connection
// and the memory driver behind one mutex, so commands and the tip loop share
// one ordered access path.
package storage
