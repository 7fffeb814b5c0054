package store

import (
	"context"
	"strings"
	"time"
)

// Response styles understood by the prompt builder.
const (
	ResponseStyleFriendly     = "friendly"
	ResponseStyleProfessional = "professional"
	ResponseStyleConcise      = "concise"
	ResponseStyleCasual       = "casual"
)

// DefaultResponseStyle is applied when a tenant has not picked one.
const DefaultResponseStyle = ResponseStyleFriendly

// PresetQA is a tenant-authored question/answer pair that bypasses the AI path.
type PresetQA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Enabled  bool   `json:"enabled"`
}

// TenantConfig is the per-tenant bot configuration. It is edited outside the
// bot (dashboard, CLI, override files) and only read by the message pipeline.
type TenantConfig struct {
	TenantID           string     `json:"tenant_id"`
	Enabled            bool       `json:"enabled"`
	KnowledgeBase      string     `json:"knowledge_base"`
	CustomInstructions string     `json:"custom_instructions"`
	PresetQA           []PresetQA `json:"preset_qa"`
	ResponseStyle      string     `json:"response_style"`
	ForceMentionOnly   bool       `json:"force_mention_only"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// DefaultTenantConfig returns the documented defaults for a tenant with no stored config.
func DefaultTenantConfig(tenantID string) TenantConfig {
	return TenantConfig{
		TenantID:      tenantID,
		ResponseStyle: DefaultResponseStyle,
		PresetQA:      []PresetQA{},
	}
}

// WithDefaults fills every empty field with its documented default.
// Unknown response styles fall back to the default style.
func (c TenantConfig) WithDefaults() TenantConfig {
	out := c
	switch strings.ToLower(strings.TrimSpace(out.ResponseStyle)) {
	case ResponseStyleFriendly, ResponseStyleProfessional, ResponseStyleConcise, ResponseStyleCasual:
		out.ResponseStyle = strings.ToLower(strings.TrimSpace(out.ResponseStyle))
	default:
		out.ResponseStyle = DefaultResponseStyle
	}
	if len(out.PresetQA) == 0 {
		out.PresetQA = []PresetQA{}
	} else {
		out.PresetQA = append(make([]PresetQA, 0, len(out.PresetQA)), out.PresetQA...)
	}
	return out
}

// HasContent reports whether the tenant has anything to answer from.
func (c TenantConfig) HasContent() bool {
	if strings.TrimSpace(c.KnowledgeBase) != "" {
		return true
	}
	for _, p := range c.PresetQA {
		if p.Enabled {
			return true
		}
	}
	return false
}

// TenantStore persists tenant configuration.
type TenantStore interface {
	// GetTenantConfig returns ErrNotFound when the tenant has no stored config.
	GetTenantConfig(ctx context.Context, tenantID string) (*TenantConfig, error)
	PutTenantConfig(ctx context.Context, cfg *TenantConfig) error
	ListTenantIDs(ctx context.Context) ([]string, error)
}
