// Package channels holds the outbound side of the bot: the shared rate
// limiter and the Manager that sends replies through the platform.
package channels

import (
	"context"
	"errors"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
)

// ErrSendRateLimited is returned when the per-feed send budget is spent.
// The reply is dropped, never queued.
var ErrSendRateLimited = errors.New("send rate limited")

// Sender delivers one message through the platform send API and returns
// the id of the created message.
type Sender interface {
	SendMessage(ctx context.Context, msg bus.OutboundMessage) (string, error)
}

// Truncate shortens s to at most maxLen runes, ending with "..." when cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
