// Package api exposes the plugin host to the editor shell over HTTP: load and
// unload cards, edit and save their config, broadcast theme and locale.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/machinefabric/cardbridge-go/bridge"
	"github.com/machinefabric/cardbridge-go/host"
)

// CardRequest is the body of POST /card.
type CardRequest struct {
	ID         string         `json:"id"`
	BaseCardID string         `json:"baseCardId,omitempty"`
	Type       string         `json:"type"`
	Path       string         `json:"path,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// StatusResponse describes the host.
type StatusResponse struct {
	State    string           `json:"state"`
	Card     *CardRequest     `json:"card,omitempty"`
	Session  *bridge.Identity `json:"session,omitempty"`
	Config   map[string]any   `json:"config,omitempty"`
	Dirty    bool             `json:"dirty"`
	Resolved int              `json:"resolvedResources"`
}

type configRequest struct {
	Config  map[string]any `json:"config"`
	Persist *bool          `json:"persist,omitempty"` // default true
}

type localeRequest struct {
	Locale string `json:"locale"`
}

// Routes returns the control router for h.
func Routes(h *host.Host, logger *slog.Logger) chi.Router {
	s := &server{host: h, log: logger}
	r := chi.NewRouter()
	r.Get("/status", s.status)
	r.Post("/card", s.load)
	r.Delete("/card", s.unload)
	r.Patch("/card/config", s.updateConfig)
	r.Put("/card/config", s.setExternalConfig)
	r.Post("/card/config/save", s.save)
	r.Post("/card/config/cancel", s.cancel)
	r.Put("/theme", s.theme)
	r.Put("/locale", s.locale)
	return r
}

type server struct {
	host *host.Host
	log  *slog.Logger
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *server) snapshot() StatusResponse {
	cfg, dirty := s.host.Config()
	resp := StatusResponse{
		State:    s.host.State().String(),
		Config:   cfg,
		Dirty:    dirty,
		Resolved: s.host.Resources().Len(),
	}
	if card := s.host.Card(); card.ID != "" {
		resp.Card = &CardRequest{ID: card.ID, BaseCardID: card.BaseCardID, Type: card.Type, Path: card.Path}
	}
	if session := s.host.Session(); session.Active() {
		id := session.Identity()
		resp.Session = &id
	}
	return resp
}

func (s *server) load(w http.ResponseWriter, r *http.Request) {
	var req CardRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "INVALID_CARD", "id and type are required")
		return
	}
	card := host.Card{ID: req.ID, BaseCardID: req.BaseCardID, Type: req.Type, Path: req.Path, Config: req.Config}
	if err := s.host.Load(r.Context(), card); err != nil {
		s.log.Warn("card load failed", "card_id", req.ID, "error", err)
		writeError(w, statusFor(err), "LOAD_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *server) unload(w http.ResponseWriter, r *http.Request) {
	if err := s.host.Unload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "UNLOAD_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decode(w, r, &req) {
		return
	}
	persist := req.Persist == nil || *req.Persist
	s.host.UpdateConfig(r.Context(), req.Config, persist)
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *server) setExternalConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decode(w, r, &req) {
		return
	}
	s.host.SetExternalConfig(req.Config)
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *server) save(w http.ResponseWriter, r *http.Request) {
	if err := s.host.SaveConfig(r.Context()); err != nil {
		writeError(w, statusFor(err), "SAVE_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *server) cancel(w http.ResponseWriter, r *http.Request) {
	s.host.CancelEdits()
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *server) theme(w http.ResponseWriter, r *http.Request) {
	var theme bridge.Theme
	if !decode(w, r, &theme) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delivered": s.host.SetTheme(theme)})
}

func (s *server) locale(w http.ResponseWriter, r *http.Request) {
	var req localeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Locale == "" {
		writeError(w, http.StatusBadRequest, "INVALID_LOCALE", "locale is required")
		return
	}
	if err := s.host.SetLocale(r.Context(), req.Locale); err != nil {
		writeError(w, statusFor(err), "LOCALE_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locale": req.Locale})
}

func statusFor(err error) int {
	var herr *host.Error
	if errors.As(err, &herr) {
		switch herr.Kind {
		case host.ErrorKindRuntime:
			return http.StatusNotFound
		case host.ErrorKindPersist:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": code, "message": message}})
}
