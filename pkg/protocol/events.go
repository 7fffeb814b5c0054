package protocol

// ProtocolVersion is the stream envelope version this build understands.
const ProtocolVersion = 1

// Stream envelope types (the "type" field of every frame).
const (
	EnvelopeChannelMapping = "channel_mapping"
	EnvelopePost           = "post"
	EnvelopePing           = "ping"
)

// Feed id prefixes used to derive the feed type for the send API.
const (
	FeedPrefixChat       = "chat_feed_"
	FeedPrefixDMs        = "dms_feed_"
	FeedPrefixForum      = "forum_feed_"
	FeedPrefixLivestream = "livestream_feed_"
)

// Feed types accepted by the send API.
const (
	FeedTypeChat       = "chat_feed"
	FeedTypeDMs        = "dms_feed"
	FeedTypeForum      = "forum_feed"
	FeedTypeLivestream = "livestream_feed"
)
