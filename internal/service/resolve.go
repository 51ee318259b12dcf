package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/l0p7/confctrl/internal/clientinfo"
	"github.com/l0p7/confctrl/internal/resolve"
	"github.com/l0p7/confctrl/internal/store"
)

// contextEcho reflects the effective client attributes back to the caller so
// mobile teams can see what the pipeline matched against.
type contextEcho struct {
	OS         string `json:"os,omitempty"`
	Device     string `json:"device,omitempty"`
	GeoCountry string `json:"geoCountry,omitempty"`
	GeoRegion  string `json:"geoRegion,omitempty"`
}

type resolveResponse struct {
	resolve.Result
	Context contextEcho `json:"context"`
}

// ServeResolve runs the full resolution pipeline for one client request.
func (s *Service) ServeResolve(w http.ResponseWriter, r *http.Request, appID, version string) {
	start := time.Now()
	logger := s.requestLogger(r)

	rc := s.buildContext(r, logger)
	result, err := s.resolver.Resolve(r.Context(), appID, version, rc)
	if err != nil {
		status := http.StatusInternalServerError
		outcome := "error"
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
			outcome = "not_found"
		} else if resolve.IsCompositionError(err) {
			outcome = "composition_error"
		}
		s.metrics.ObserveResolve(appID, outcome, status, time.Since(start))
		logger.Warn("resolve failed",
			slog.String("spec", appID+"@"+version),
			slog.String("outcome", outcome),
			slog.Any("error", err))
		s.WriteError(w, status, err.Error())
		return
	}

	s.metrics.ObserveResolve(appID, "resolved", http.StatusOK, time.Since(start))
	logger.Debug("resolved",
		slog.String("spec", appID+"@"+version),
		slog.Int("matched", len(result.Matched)),
		slog.Bool("valid", result.Validation.Valid))
	s.writeJSON(w, http.StatusOK, resolveResponse{
		Result: result,
		Context: contextEcho{
			OS:         rc.EffectiveOS(),
			Device:     rc.EffectiveDevice(),
			GeoCountry: rc.EffectiveCountry(),
			GeoRegion:  rc.EffectiveRegion(),
		},
	})
}

// buildContext assembles the resolution context from the request. Malformed
// optional inputs degrade to absent attributes; resolution never fails on a
// bad query parameter.
func (s *Service) buildContext(r *http.Request, logger *slog.Logger) resolve.Context {
	query := r.URL.Query()

	rc := resolve.Context{
		UserAgent:   r.Header.Get("User-Agent"),
		AppVersion:  strings.TrimSpace(query.Get("appVersion")),
		OS:          strings.TrimSpace(query.Get("os")),
		Device:      strings.TrimSpace(query.Get("device")),
		Environment: strings.TrimSpace(query.Get("env")),
		UserID:      strings.TrimSpace(query.Get("userId")),
		Timestamp:   time.Now().UTC(),
	}
	rc.Parsed = s.parser.Parse(rc.UserAgent)

	if raw := query.Get("timestamp"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			rc.Timestamp = ts
		} else {
			logger.Debug("timestamp parameter ignored", slog.Any("error", err))
		}
	}

	if raw := query.Get("flags"); raw != "" {
		var flags map[string]bool
		if err := json.Unmarshal([]byte(raw), &flags); err == nil {
			rc.FeatureFlags = flags
		} else {
			logger.Debug("flags parameter ignored", slog.Any("error", err))
		}
	}

	if raw := query.Get("context"); raw != "" {
		var custom map[string]any
		if err := json.Unmarshal([]byte(raw), &custom); err == nil {
			rc.Custom = custom
		} else {
			logger.Debug("context parameter ignored", slog.Any("error", err))
		}
	}

	if ip := clientIP(r); ip != "" {
		if loc, ok := s.geo.Resolve(r.Context(), ip); ok {
			rc.GeoCountry = loc.Country
			rc.GeoRegion = loc.Region
		}
	}

	country := strings.TrimSpace(query.Get("country"))
	region := strings.TrimSpace(query.Get("region"))
	if country != "" || region != "" {
		rc.ClientGeo = &clientinfo.Location{Country: country, Region: region}
	}

	return rc
}

// clientIP prefers the first X-Forwarded-For hop; RemoteAddr is the fallback.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
