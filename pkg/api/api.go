/*
AcePanel Core
Copyright (c) 2026 The AcePanel Project Contributors.
SPDX-License-Identifier: GPL-3.0-or-later

This file is part of AcePanel Core.

AcePanel Core is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AcePanel Core is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AcePanel Core.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package api serves the local REST and websocket surface over the panel
// service. It is the minimal caller interface: no auth, bound to localhost
// by default.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/acepanel/acepanel-core/pkg/api/models"
	"github.com/acepanel/acepanel-core/pkg/config"
	"github.com/acepanel/acepanel-core/pkg/device/pixel"
	"github.com/acepanel/acepanel-core/pkg/device/session"
	"github.com/acepanel/acepanel-core/pkg/display/compose"
	"github.com/acepanel/acepanel-core/pkg/display/store"
	"github.com/acepanel/acepanel-core/pkg/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

type server struct {
	svc *service.Service
}

// NewRouter builds the chi router for the API, including the websocket event
// endpoint fed by the notifications channel.
func NewRouter(
	cfg *config.Instance,
	svc *service.Service,
	notifications <-chan models.Notification,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(middleware.Timeout(config.APIRequestTimeout))

	allowedOrigins := []string{"https://*", "http://*"}
	if cfg != nil && len(cfg.AllowedOrigins()) > 0 {
		allowedOrigins = cfg.AllowedOrigins()
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s := &server{svc: svc}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", newEventSocket(notifications).handler)

		r.Post("/lighting", s.handleSetLighting)
		r.Post("/orientation", s.handleSetOrientation)

		r.Post("/image", s.handleSetImage)
		r.Post("/image/fill", s.handleFillImage)
		r.Post("/image/test", s.handleTestPattern)
		r.Delete("/image", s.handleClearImage)
		r.Get("/preview", s.handlePreview)

		r.Get("/text", s.handleListText)
		r.Post("/text", s.handleAddText)
		r.Patch("/text/{key}", s.handleUpdateText)
		r.Delete("/text/{key}", s.handleRemoveText)
		r.Delete("/text", s.handleClearText)

		r.Post("/values", s.handleUpdateValue)
		r.Post("/background", s.handleSetBackground)

		r.Get("/status", s.handleStatus)
		r.Get("/version", s.handleVersion)
	})

	return r
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func Start(
	ctx context.Context,
	cfg *config.Instance,
	svc *service.Service,
	notifications <-chan models.Notification,
) error {
	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           NewRouter(cfg, svc, notifications),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http server shutdown")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("api server listening")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), models.ErrorResponse{Error: err.Error()})
}

// statusFor maps service errors onto HTTP statuses: bad input is the
// caller's fault, transport failures mean the panel is unreachable right
// now, anything else is ours.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, session.ErrTransport):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrBadTheme),
		errors.Is(err, service.ErrBadIntensity),
		errors.Is(err, service.ErrBadSpeed),
		errors.Is(err, service.ErrBadBitmapLen),
		errors.Is(err, store.ErrEmptyKey),
		errors.Is(err, pixel.ErrBadOrientation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
			Error: fmt.Sprintf("invalid request body: %v", err),
		})
		return false
	}
	return true
}

func (s *server) handleSetLighting(w http.ResponseWriter, r *http.Request) {
	var params models.LightingParams
	if !decodeBody(w, r, &params) {
		return
	}

	// Omitted fields fall back to the firmware defaults.
	if params.Theme == 0 {
		params.Theme = service.DefaultTheme
	}
	if params.Intensity == 0 {
		params.Intensity = service.DefaultIntensity
	}
	if params.Speed == 0 {
		params.Speed = service.DefaultSpeed
	}

	if err := s.svc.SetLighting(params.Theme, params.Intensity, params.Speed); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetOrientation(w http.ResponseWriter, r *http.Request) {
	var params models.OrientationParams
	if !decodeBody(w, r, &params) {
		return
	}

	o, err := pixel.ParseOrientation(params.Orientation)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.SetOrientation(o); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetImage(w http.ResponseWriter, r *http.Request) {
	// One byte over the largest valid frame is enough to reject the body.
	limit := int64(pixel.Portrait.BitmapLen()) + 1
	bitmap, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "reading body"})
		return
	}

	if err := s.svc.SetImage(bitmap); err != nil {
		writeError(w, err)
		return
	}
	// The transfer itself is asynchronous.
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleFillImage(w http.ResponseWriter, r *http.Request) {
	var params models.FillParams
	if !decodeBody(w, r, &params) {
		return
	}

	c := compose.RGB{R: params.Color[0], G: params.Color[1], B: params.Color[2]}
	if err := s.svc.FillImage(c); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleTestPattern(w http.ResponseWriter, _ *http.Request) {
	if err := s.svc.TestPattern(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleClearImage(w http.ResponseWriter, _ *http.Request) {
	if err := s.svc.ClearImage(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	img, err := s.svc.Preview()
	if err != nil {
		writeError(w, err)
		return
	}
	if img == nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "no image sent yet"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		log.Error().Err(err).Msg("encoding preview png")
	}
}

func (s *server) handleListText(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Elements())
}

func (s *server) handleAddText(w http.ResponseWriter, r *http.Request) {
	var element compose.Element
	if !decodeBody(w, r, &element) {
		return
	}

	key, err := s.svc.AddText(element)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.AddTextResponse{EntityID: key})
}

func (s *server) handleUpdateText(w http.ResponseWriter, r *http.Request) {
	var patch store.ElementPatch
	if !decodeBody(w, r, &patch) {
		return
	}

	if err := s.svc.UpdateText(chi.URLParam(r, "key"), patch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRemoveText(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveText(chi.URLParam(r, "key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleClearText(w http.ResponseWriter, _ *http.Request) {
	if err := s.svc.ClearText(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUpdateValue(w http.ResponseWriter, r *http.Request) {
	var params models.ValueParams
	if !decodeBody(w, r, &params) {
		return
	}
	if params.EntityID == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "entity_id is required"})
		return
	}

	value, err := parseValue(params.Value)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	if err := s.svc.UpdateValue(params.EntityID, value); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseValue accepts a JSON number or string; anything else has no display
// form.
func parseValue(raw json.RawMessage) (compose.Value, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return compose.NumberValue(n), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return compose.StringValue(s), nil
	}

	return nil, errors.New("value must be a number or a string")
}

func (s *server) handleSetBackground(w http.ResponseWriter, r *http.Request) {
	var params models.BackgroundParams
	if !decodeBody(w, r, &params) {
		return
	}

	o, err := pixel.ParseOrientation(params.Orientation)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.SetBackground(o, params.Path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.VersionResponse{
		Version:  config.AppVersion,
		Platform: runtime.GOOS,
	})
}
