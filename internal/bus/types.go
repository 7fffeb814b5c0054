package bus

import "time"

// Author identifies who wrote a post.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// MappingAdvert announces which tenant owns a channel group.
type MappingAdvert struct {
	ChannelGroupID string `json:"channel_group_id"`
	TenantID       string `json:"tenant_id"`
}

// Post is a chat post as delivered by the stream.
type Post struct {
	EntityID       string `json:"entity_id"`
	FeedID         string `json:"feed_id"`
	ChannelGroupID string `json:"channel_group_id"`
	Content        string `json:"content"`
	Author         Author `json:"author"`
	ReplyToID      string `json:"reply_to_id,omitempty"`
}

// Envelope is one decoded stream frame. Exactly one of Mapping or Post is set
// for a well-formed envelope; anything else is dropped at ingestion.
type Envelope struct {
	Mapping *MappingAdvert
	Post    *Post
}

// InboundMessage is a normalized chat message accepted by ingestion.
// It is consumed once by the coordinator (directly or after buffering).
type InboundMessage struct {
	EntityID       string    `json:"entity_id"`
	FeedID         string    `json:"feed_id"`
	ChannelGroupID string    `json:"channel_group_id"`
	Content        string    `json:"content"`
	Author         Author    `json:"author"`
	ReplyToID      string    `json:"reply_to_id,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Key identifies the message for at-most-once processing.
func (m InboundMessage) Key() string {
	return m.EntityID + "|" + m.FeedID
}

// OutboundMessage is a reply to be sent through the platform send API.
type OutboundMessage struct {
	FeedID         string `json:"feed_id"`
	Content        string `json:"content"`
	ReplyToID      string `json:"reply_to_id,omitempty"`
	IdempotencyKey string `json:"-"`
}

// MappingEvent is published by the tenant resolver when a channel group with
// buffered messages becomes resolvable.
type MappingEvent struct {
	ChannelGroupID string
	TenantID       string
}
