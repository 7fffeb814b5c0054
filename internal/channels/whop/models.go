package whop

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/bus"
	"github.com/mFahadNoor/whop-ai-support-sub000/pkg/protocol"
)

// ErrIgnoredFrame is returned for frames that carry nothing to ingest (pings).
var ErrIgnoredFrame = errors.New("whop: ignored frame")

// frame is the wire shape of one stream message.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeEnvelope parses one stream frame into an envelope. Malformed frames
// and unknown types return an error; the caller drops them.
func DecodeEnvelope(data []byte) (bus.Envelope, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return bus.Envelope{}, fmt.Errorf("whop: parse frame: %w", err)
	}

	switch f.Type {
	case protocol.EnvelopeChannelMapping:
		var m bus.MappingAdvert
		if err := json.Unmarshal(f.Data, &m); err != nil {
			return bus.Envelope{}, fmt.Errorf("whop: parse mapping: %w", err)
		}
		return bus.Envelope{Mapping: &m}, nil
	case protocol.EnvelopePost:
		var p bus.Post
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return bus.Envelope{}, fmt.Errorf("whop: parse post: %w", err)
		}
		return bus.Envelope{Post: &p}, nil
	case protocol.EnvelopePing:
		return bus.Envelope{}, ErrIgnoredFrame
	default:
		return bus.Envelope{}, fmt.Errorf("whop: unknown frame type %q", f.Type)
	}
}

// FeedType derives the send API feed type from a feed id prefix.
// Unknown prefixes are treated as chat feeds.
func FeedType(feedID string) string {
	switch {
	case strings.HasPrefix(feedID, protocol.FeedPrefixDMs):
		return protocol.FeedTypeDMs
	case strings.HasPrefix(feedID, protocol.FeedPrefixForum):
		return protocol.FeedTypeForum
	case strings.HasPrefix(feedID, protocol.FeedPrefixLivestream):
		return protocol.FeedTypeLivestream
	default:
		return protocol.FeedTypeChat
	}
}

// sendRequest is the body of POST /messages.
type sendRequest struct {
	FeedID    string `json:"feed_id"`
	FeedType  string `json:"feed_type"`
	Content   string `json:"content"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type mappingPage struct {
	Data       []bus.MappingAdvert `json:"data"`
	Pagination struct {
		NextCursor string `json:"next_cursor"`
	} `json:"pagination"`
}
