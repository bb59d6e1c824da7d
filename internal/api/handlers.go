package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/lingoproxy/internal/costctl"
	"github.com/allaspectsdev/lingoproxy/internal/fingerprint"
	"github.com/allaspectsdev/lingoproxy/internal/pipeline"
	"github.com/allaspectsdev/lingoproxy/internal/store"
	"github.com/allaspectsdev/lingoproxy/internal/version"
)

// Handlers implements the /api/v1 endpoints over the pipeline and repos.
type Handlers struct {
	translator *pipeline.Translator
	cost       *costctl.Controller
	store      *store.Store
}

// NewHandlers creates the handler set.
func NewHandlers(translator *pipeline.Translator, cost *costctl.Controller, st *store.Store) *Handlers {
	return &Handlers{
		translator: translator,
		cost:       cost,
		store:      st,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("encoding response failed")
	}
}

type translateRequest struct {
	Text              string `json:"text"`
	SourceLang        string `json:"source_lang"`
	TargetLang        string `json:"target_lang"`
	Format            string `json:"format"`
	EnableRefinement  bool   `json:"enable_refinement"`
	RefinementModel   string `json:"refinement_model"`
	PreferredProvider string `json:"preferred_provider"`
}

type translateData struct {
	Text      string `json:"text"`
	Provider  string `json:"provider"`
	IsRefined bool   `json:"is_refined"`
	IsCached  bool   `json:"is_cached"`
}

type translateResponse struct {
	Success bool           `json:"success"`
	Data    *translateData `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// HandleTranslate runs the pipeline for one request. Controlled pipeline
// failure still answers 200: success=false carries the reason. Only a
// malformed request body or missing required fields produce a 4xx.
func (h *Handlers) HandleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, translateResponse{Success: false, Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, translateResponse{Success: false, Error: "text is required"})
		return
	}
	if strings.TrimSpace(req.TargetLang) == "" {
		writeJSON(w, http.StatusBadRequest, translateResponse{Success: false, Error: "target_lang is required"})
		return
	}

	resp := h.translator.Translate(r.Context(), pipeline.Request{
		Text:       req.Text,
		SourceLang: fingerprint.NormalizeLanguageCode(req.SourceLang),
		TargetLang: fingerprint.NormalizeLanguageCode(req.TargetLang),
		Options: pipeline.Options{
			Format:            req.Format,
			EnableRefinement:  req.EnableRefinement,
			RefinementModel:   req.RefinementModel,
			PreferredProvider: strings.ToLower(req.PreferredProvider),
		},
	})

	if !resp.Success {
		writeJSON(w, http.StatusOK, translateResponse{Success: false, Error: resp.Error})
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{
		Success: true,
		Data: &translateData{
			Text:      resp.Text,
			Provider:  resp.Provider,
			IsRefined: resp.IsRefined,
			IsCached:  resp.IsCached,
		},
	})
}

// HandleHealth answers the liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// HandleStats serves the daily usage summary. An absent date parameter
// means today.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	summary, err := h.cost.DailySummary(r.Context(), date)
	if err != nil {
		log.Error().Err(err).Msg("daily summary failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleDashboard serves aggregated counters, the daily trend, and
// month-to-date quota percentages.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	stats, err := h.store.GetDashboardStats(r.Context(), days)
	if err != nil {
		log.Error().Err(err).Msg("dashboard stats failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "dashboard unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleProviders reports each tier's availability and gate state.
func (h *Handlers) HandleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": h.translator.ProviderStatuses(r.Context()),
	})
}

type translationItem struct {
	CacheKey        string `json:"cache_key"`
	SourceLang      string `json:"source_lang"`
	TargetLang      string `json:"target_lang"`
	OriginalText    string `json:"original_text"`
	TranslatedText  string `json:"translated_text"`
	RefinedText     string `json:"refined_text,omitempty"`
	Provider        string `json:"provider"`
	IsRefined       bool   `json:"is_refined"`
	RefinementModel string `json:"refinement_model,omitempty"`
	CharCount       int64  `json:"char_count"`
	CreatedAt       string `json:"created_at"`
	LastAccessedAt  string `json:"last_accessed_at"`
}

func nullableString(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

// HandleTranslations serves the paginated cache listing.
func (h *Handlers) HandleTranslations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.TranslationFilter{
		Query:      q.Get("q"),
		SourceLang: fingerprint.NormalizeLanguageCode(q.Get("source_lang")),
		TargetLang: fingerprint.NormalizeLanguageCode(q.Get("target_lang")),
		Page:       1,
		PageSize:   20,
	}
	if v := q.Get("providers"); v != "" {
		filter.Providers = strings.Split(v, ",")
	}
	if v := q.Get("is_refined"); v != "" {
		refined := v == "true" || v == "1"
		filter.IsRefined = &refined
	}
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Page = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.PageSize = n
		}
	}

	items, total, err := h.store.ListTranslations(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("listing translations failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing unavailable"})
		return
	}

	out := make([]translationItem, 0, len(items))
	for _, t := range items {
		out = append(out, translationItem{
			CacheKey:        t.CacheKey,
			SourceLang:      t.SourceLang,
			TargetLang:      t.TargetLang,
			OriginalText:    t.OriginalText,
			TranslatedText:  t.TranslatedText,
			RefinedText:     nullableString(t.RefinedText),
			Provider:        t.Provider,
			IsRefined:       t.IsRefined,
			RefinementModel: nullableString(t.RefinementModel),
			CharCount:       t.CharCount,
			CreatedAt:       t.CreatedAt,
			LastAccessedAt:  t.LastAccessedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": out,
		"total": total,
		"page":  filter.Page,
	})
}

// HandleLanguages serves the distinct language codes present in the cache.
func (h *Handlers) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	sources, targets, err := h.store.Languages(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("listing languages failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "languages unavailable"})
		return
	}
	if sources == nil {
		sources = []string{}
	}
	if targets == nil {
		targets = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source_languages": sources,
		"target_languages": targets,
	})
}
