// Package tgui holds helpers for building Telegram HTML messages.
//
// Text is escaped by default; values of type H are already safe for
// ParseMode="HTML".
package tgui
