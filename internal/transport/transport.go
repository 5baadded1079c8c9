// Package transport defines the delivery kit the notification pipeline sends
// through. Implementations are send-only: the daemon has no conversational
// surface, it only pushes messages out.
package transport

import "context"

// ChatTarget addresses one chat on the delivery platform.
type ChatTarget struct {
	ChatID int64
}

// Photo is an image message: a caption under the image and at most one
// action button linking out.
type Photo struct {
	URL         string
	Caption     string
	ActionLabel string
	ActionURL   string
}

// Sender delivers notification messages.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string) error
	SendPhoto(ctx context.Context, to ChatTarget, photo Photo) error
}
