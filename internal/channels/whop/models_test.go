package whop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantMapping bool
		wantPost    bool
		wantErr     bool
		ignored     bool
	}{
		{
			name:        "mapping",
			in:          `{"type":"channel_mapping","data":{"channel_group_id":"cg_1","tenant_id":"tenant_a"}}`,
			wantMapping: true,
		},
		{
			name:     "post",
			in:       `{"type":"post","data":{"entity_id":"post_1","feed_id":"chat_feed_1","channel_group_id":"cg_1","content":"hi?","author":{"id":"user_1","display_name":"Ann"},"reply_to_id":"post_0"}}`,
			wantPost: true,
		},
		{name: "ping", in: `{"type":"ping"}`, wantErr: true, ignored: true},
		{name: "unknown type", in: `{"type":"reaction","data":{}}`, wantErr: true},
		{name: "not json", in: `nope`, wantErr: true},
		{name: "bad data", in: `{"type":"post","data":"string"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.ignored, err == ErrIgnoredFrame)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMapping, env.Mapping != nil)
			assert.Equal(t, tt.wantPost, env.Post != nil)
		})
	}
}

func TestDecodePostFields(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type":"post","data":{"entity_id":"post_1","feed_id":"chat_feed_1","channel_group_id":"cg_1","content":"hello","author":{"id":"user_1","display_name":"Ann"},"reply_to_id":"msg_9"}}`))
	require.NoError(t, err)
	require.NotNil(t, env.Post)
	assert.Equal(t, "post_1", env.Post.EntityID)
	assert.Equal(t, "cg_1", env.Post.ChannelGroupID)
	assert.Equal(t, "user_1", env.Post.Author.ID)
	assert.Equal(t, "msg_9", env.Post.ReplyToID)
}

func TestFeedType(t *testing.T) {
	tests := map[string]string{
		"chat_feed_abc":       "chat_feed",
		"dms_feed_abc":        "dms_feed",
		"forum_feed_abc":      "forum_feed",
		"livestream_feed_abc": "livestream_feed",
		"mystery_abc":         "chat_feed",
	}
	for in, want := range tests {
		assert.Equal(t, want, FeedType(in), in)
	}
}
