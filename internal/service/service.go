// Package service implements the HTTP-facing operations of the resolution
// service: the resolve endpoint, specification administration, rule
// composition utilities, and health reporting. Routing lives in the server
// package; this package owns request decoding, status mapping, and response
// encoding.
package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/l0p7/confctrl/internal/clientinfo"
	"github.com/l0p7/confctrl/internal/metrics"
	"github.com/l0p7/confctrl/internal/resolve"
	"github.com/l0p7/confctrl/internal/spec"
	"github.com/l0p7/confctrl/internal/store"
)

// Service carries the collaborators every endpoint draws on.
type Service struct {
	store    *store.Store
	files    *store.FileStore
	resolver *resolve.Resolver
	loader   *resolve.Loader

	parser clientinfo.Parser
	geo    clientinfo.GeoResolver

	logger            *slog.Logger
	metrics           *metrics.Recorder
	correlationHeader string
}

// Options bundles the optional collaborators; nil fields get safe defaults.
type Options struct {
	Files             *store.FileStore
	Parser            clientinfo.Parser
	Geo               clientinfo.GeoResolver
	Metrics           *metrics.Recorder
	CorrelationHeader string
}

// New wires the operations layer. Store, resolver, and loader are required;
// everything else defaults.
func New(specs *store.Store, resolver *resolve.Resolver, loader *resolve.Loader, logger *slog.Logger, opts Options) (*Service, error) {
	if specs == nil || resolver == nil || loader == nil {
		return nil, errors.New("service: store, resolver, and loader required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := opts.Parser
	if parser == nil {
		parser = clientinfo.NewParser()
	}
	geo := opts.Geo
	if geo == nil {
		geo = clientinfo.NoopGeoResolver{}
	}
	return &Service{
		store:             specs,
		files:             opts.Files,
		resolver:          resolver,
		loader:            loader,
		parser:            parser,
		geo:               geo,
		logger:            logger.With(slog.String("agent", "service")),
		metrics:           opts.Metrics,
		correlationHeader: opts.CorrelationHeader,
	}, nil
}

// WriteError emits the JSON error payload every endpoint shares.
func (s *Service) WriteError(w http.ResponseWriter, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, map[string]any{"error": message})
}

// ServeList returns one summary line per stored specification.
func (s *Service) ServeList(w http.ResponseWriter, _ *http.Request) {
	type summary struct {
		AppID       string `json:"appId"`
		Version     string `json:"version"`
		Environment string `json:"environment"`
		UpdatedAt   string `json:"updatedAt"`
		Rules       int    `json:"rules"`
	}
	specs := s.store.List()
	out := make([]summary, 0, len(specs))
	for _, sp := range specs {
		out = append(out, summary{
			AppID:       sp.AppID,
			Version:     sp.Version,
			Environment: sp.Environment,
			UpdatedAt:   sp.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Rules:       len(sp.Rules),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"specifications": out})
}

// ServeCreate registers a new specification. The default configuration must
// satisfy its own schema, and the (appId, version) identity must be free.
func (s *Service) ServeCreate(w http.ResponseWriter, r *http.Request) {
	var sp spec.Specification
	if err := json.NewDecoder(r.Body).Decode(&sp); err != nil {
		s.WriteError(w, http.StatusBadRequest, "malformed specification: "+err.Error())
		return
	}
	if err := sp.Validate(); err != nil {
		s.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if result := sp.Schema.ValidateDocument(sp.DefaultConfig); !result.Valid {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "default configuration fails schema validation",
			"validation": result,
		})
		return
	}
	if strings.TrimSpace(sp.ID) == "" {
		sp.ID = uuid.NewString()
	}
	if err := s.store.Create(r.Context(), sp); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			s.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		s.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stored, err := s.store.Get(sp.AppID, sp.Version)
	if err != nil {
		s.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("specification created", slog.String("spec", stored.Key()))
	s.writeJSON(w, http.StatusCreated, stored)
}

// ServeReplace fully replaces a stored specification. Identity fields (appId,
// version, id) and the creation timestamp survive the replacement.
func (s *Service) ServeReplace(w http.ResponseWriter, r *http.Request, appID, version string) {
	existing, err := s.store.Get(appID, version)
	if err != nil {
		s.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	var sp spec.Specification
	if err := json.NewDecoder(r.Body).Decode(&sp); err != nil {
		s.WriteError(w, http.StatusBadRequest, "malformed specification: "+err.Error())
		return
	}
	sp.AppID = existing.AppID
	sp.Version = existing.Version
	sp.ID = existing.ID
	sp.CreatedAt = existing.CreatedAt
	if err := sp.Validate(); err != nil {
		s.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if result := sp.Schema.ValidateDocument(sp.DefaultConfig); !result.Valid {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "default configuration fails schema validation",
			"validation": result,
		})
		return
	}
	if err := s.store.Save(r.Context(), sp); err != nil {
		s.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stored, err := s.store.Get(appID, version)
	if err != nil {
		s.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("specification replaced", slog.String("spec", stored.Key()))
	s.writeJSON(w, http.StatusOK, stored)
}

// ServeDelete removes a specification and its persisted document.
func (s *Service) ServeDelete(w http.ResponseWriter, r *http.Request, appID, version string) {
	if err := s.store.Delete(r.Context(), appID, version); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		s.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("specification deleted",
		slog.String("spec", appID+"@"+version))
	w.WriteHeader(http.StatusNoContent)
}

// ServeCompose folds the submitted rules into one composite rule.
func (s *Service) ServeCompose(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rules     []spec.Rule `json:"rules"`
		NewRuleID string      `json:"newRuleId"`
		Strategy  string      `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.WriteError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.NewRuleID) == "" {
		s.WriteError(w, http.StatusBadRequest, "newRuleId required")
		return
	}
	rule, err := resolve.ComposeRules(req.Rules, req.NewRuleID, req.Strategy)
	if err != nil {
		s.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

// ServeFromTemplate instantiates a rule from either an inline template or a
// stored specification's template table.
func (s *Service) ServeFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID      string     `json:"appId"`
		Version    string     `json:"version"`
		TemplateID string     `json:"templateId"`
		Template   *spec.Rule `json:"template"`
		Overrides  spec.Rule  `json:"overrides"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.WriteError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	var templates map[string]spec.Rule
	switch {
	case req.Template != nil:
		if strings.TrimSpace(req.TemplateID) == "" {
			req.TemplateID = "inline"
		}
		templates = map[string]spec.Rule{req.TemplateID: *req.Template}
	case req.AppID != "" && req.Version != "":
		sp, err := s.store.Get(req.AppID, req.Version)
		if err != nil {
			s.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		templates = sp.RuleTemplates
	default:
		s.WriteError(w, http.StatusBadRequest, "template or appId/version required")
		return
	}

	rule, err := resolve.NewComposer(templates).CreateFromTemplate(req.TemplateID, req.Overrides)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, resolve.ErrTemplateNotFound) {
			status = http.StatusNotFound
		}
		s.WriteError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

// ServeTestConditions evaluates submitted load conditions against a synthetic
// or stored specification, returning the per-condition verdicts. Purely
// diagnostic; nothing is cached.
func (s *Service) ServeTestConditions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID              string               `json:"appId"`
		Version            string               `json:"version"`
		RuleID             string               `json:"ruleId"`
		LoadConditions     []spec.LoadCondition `json:"loadConditions"`
		Environment        string               `json:"environment"`
		UserID             string               `json:"userId"`
		Flags              map[string]bool      `json:"flags"`
		RolloutPercentages map[string]float64   `json:"rolloutPercentages"`
		Context            map[string]any       `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.WriteError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	if len(req.LoadConditions) == 0 {
		s.WriteError(w, http.StatusBadRequest, "loadConditions required")
		return
	}

	var sp spec.Specification
	if req.AppID != "" && req.Version != "" {
		stored, err := s.store.Get(req.AppID, req.Version)
		if err != nil {
			s.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		sp = stored
	} else {
		sp = spec.Specification{
			Environment:        req.Environment,
			FeatureFlags:       req.Flags,
			RolloutPercentages: req.RolloutPercentages,
		}
	}
	if req.Environment != "" {
		sp.Environment = req.Environment
	}

	rc := resolve.Context{
		Environment:  sp.Environment,
		UserID:       req.UserID,
		FeatureFlags: req.Flags,
		Custom:       req.Context,
	}

	type verdict struct {
		Type   string `json:"type"`
		Loaded bool   `json:"loaded"`
	}
	verdicts := make([]verdict, 0, len(req.LoadConditions))
	loaded := true
	for _, cond := range req.LoadConditions {
		ok := s.loader.EvaluateLoadCondition(cond, req.RuleID, &sp, rc)
		verdicts = append(verdicts, verdict{Type: cond.Type, Loaded: ok})
		loaded = loaded && ok
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"loaded":  loaded,
		"results": verdicts,
	})
}

// ServeHealth reports registry size, document sources, and quarantined files.
func (s *Service) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":         "ok",
		"specifications": s.store.Count(),
	}
	if s.files != nil {
		folder, file := s.files.Source()
		source := map[string]any{}
		if folder != "" {
			source["folder"] = folder
		}
		if file != "" {
			source["file"] = file
		}
		payload["source"] = source
		if skipped := s.files.Skipped(); len(skipped) > 0 {
			payload["skippedFiles"] = skipped
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", slog.Any("error", err))
	}
}

func (s *Service) requestLogger(r *http.Request) *slog.Logger {
	if s.correlationHeader == "" {
		return s.logger
	}
	correlation := strings.TrimSpace(r.Header.Get(s.correlationHeader))
	if correlation == "" {
		return s.logger
	}
	return s.logger.With(slog.String("correlation_id", correlation))
}
