// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders for URL buttons
//   - Caption-safe text truncation within Bot API limits
package tgui
