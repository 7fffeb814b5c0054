package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mFahadNoor/whop-ai-support-sub000/internal/store"
)

const maxConfigBody = 1 << 20

// Invalidator drops cached state derived from a tenant's configuration.
type Invalidator interface {
	Invalidate(tenantID string)
}

// TenantsHandler is the external configuration-write path: every write goes
// to the store and then invalidates the tenant's cached config.
type TenantsHandler struct {
	tenants     store.TenantStore
	mappings    store.MappingStore
	invalidator Invalidator
	token       string
}

func NewTenantsHandler(tenants store.TenantStore, mappings store.MappingStore, inv Invalidator, token string) *TenantsHandler {
	return &TenantsHandler{tenants: tenants, mappings: mappings, invalidator: inv, token: token}
}

// RegisterRoutes registers the tenant admin routes on mux.
func (h *TenantsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/tenants", requireToken(h.token, h.handleList))
	mux.HandleFunc("GET /v1/tenants/{id}", requireToken(h.token, h.handleGet))
	mux.HandleFunc("PUT /v1/tenants/{id}", requireToken(h.token, h.handlePut))
	mux.HandleFunc("POST /v1/tenants/{id}/invalidate", requireToken(h.token, h.handleInvalidate))
	mux.HandleFunc("GET /v1/mappings", requireToken(h.token, h.handleListMappings))
}

func (h *TenantsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ids, err := h.tenants.ListTenantIDs(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": ids})
}

func (h *TenantsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !isValidTenantID(id) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tenant id"})
		return
	}

	cfg, err := h.tenants.GetTenantConfig(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not configured"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cfg.WithDefaults())
}

func (h *TenantsHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !isValidTenantID(id) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tenant id"})
		return
	}

	var cfg store.TenantConfig
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBody)).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if msg := validateTenantConfig(cfg); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}
	cfg.TenantID = id
	cfg.UpdatedAt = time.Now().UTC()

	if err := h.tenants.PutTenantConfig(r.Context(), &cfg); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.invalidator.Invalidate(id)
	slog.Info("tenant config updated", "tenant_id", id, "presets", len(cfg.PresetQA), "kb_len", len(cfg.KnowledgeBase))

	writeJSON(w, http.StatusOK, cfg.WithDefaults())
}

func (h *TenantsHandler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !isValidTenantID(id) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tenant id"})
		return
	}
	h.invalidator.Invalidate(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "tenant_id": id})
}

func (h *TenantsHandler) handleListMappings(w http.ResponseWriter, r *http.Request) {
	var (
		list []store.Mapping
		err  error
	)
	if raw := r.URL.Query().Get("tenant"); raw != "" {
		list, err = h.mappings.ListMappingsForTenants(r.Context(), strings.Split(raw, ","))
	} else {
		list, err = h.mappings.ListMappings(r.Context())
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if list == nil {
		list = []store.Mapping{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mappings": list})
}

// validateTenantConfig rejects configs the bot could only misuse.
func validateTenantConfig(cfg store.TenantConfig) string {
	switch strings.ToLower(strings.TrimSpace(cfg.ResponseStyle)) {
	case "", store.ResponseStyleFriendly, store.ResponseStyleProfessional, store.ResponseStyleConcise, store.ResponseStyleCasual:
	default:
		return "unknown response_style " + cfg.ResponseStyle
	}
	for i, p := range cfg.PresetQA {
		if strings.TrimSpace(p.Question) == "" || strings.TrimSpace(p.Answer) == "" {
			return fmt.Sprintf("preset_qa[%d] needs a question and an answer", i)
		}
	}
	return ""
}
