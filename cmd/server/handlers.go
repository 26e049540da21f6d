package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/ruleops/internal/logger"
	"github.com/liamcoop/ruleops/rules"
	"github.com/liamcoop/ruleops/rules/facts"
	"github.com/liamcoop/ruleops/ruleset"
)

// defaultRecentDays is the window of /rules/recent without a days parameter.
const defaultRecentDays = 7

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	resp := HealthResponse{
		Status:      "healthy",
		Store:       "memory",
		Generation:  snap.Generation,
		ActiveRules: len(snap.Rules),
	}

	if s.db != nil {
		resp.Store = "postgres"
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.schemas.List())
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	ft, err := s.schemas.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ft)
}

// List rules handler. Query parameters: status, category, q.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	filter := rules.ListFilter{
		Category: r.URL.Query().Get("category"),
		Search:   r.URL.Query().Get("q"),
	}
	if st := r.URL.Query().Get("status"); st != "" {
		status, err := rules.ParseStatus(st)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		filter.Status = status
	}

	s.listRules(w, filter, nil)
}

func (s *Server) handleActiveRules(w http.ResponseWriter, r *http.Request) {
	s.listRules(w, rules.ListFilter{Status: rules.StatusActive}, nil)
}

func (s *Server) handleRulesWithErrors(w http.ResponseWriter, r *http.Request) {
	s.listRules(w, rules.ListFilter{}, (*rules.Rule).HasErrors)
}

func (s *Server) handleRecentRules(w http.ResponseWriter, r *http.Request) {
	days := defaultRecentDays
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "days must be a positive integer")
			return
		}
		days = n
	}

	list, err := s.engine.List(rules.ListFilter{})
	if err != nil {
		respondEngineError(w, "failed to list rules", err)
		return
	}

	out := recentlyModified(list, time.Now().AddDate(0, 0, -days))
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: out, Count: len(out)})
}

// recentlyModified keeps the rules updated at or after since, most
// recently updated first.
func recentlyModified(list []*rules.Rule, since time.Time) []*rules.Rule {
	out := make([]*rules.Rule, 0, len(list))
	for _, rule := range list {
		if !rule.UpdatedAt.Before(since) {
			out = append(out, rule)
		}
	}
	slices.SortStableFunc(out, func(a, b *rules.Rule) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out
}

func (s *Server) listRules(w http.ResponseWriter, filter rules.ListFilter, keep func(*rules.Rule) bool) {
	list, err := s.engine.List(filter)
	if err != nil {
		respondEngineError(w, "failed to list rules", err)
		return
	}

	out := make([]*rules.Rule, 0, len(list))
	for _, rule := range list {
		if keep == nil || keep(rule) {
			out = append(out, rule)
		}
	}
	respondJSON(w, http.StatusOK, RulesListResponse{Rules: out, Count: len(out)})
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return
	}

	rule := &rules.Rule{
		Name:        req.Name,
		Description: req.Description,
		Body:        req.Body,
		Priority:    req.Priority,
		Category:    req.Category,
		Tags:        req.Tags,
		Template:    req.Template,
	}
	if req.Status != "" {
		st, err := rules.ParseStatus(req.Status)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		rule.Status = st
	}

	saved, err := s.engine.Save(rule, actor(r))
	respondRule(w, http.StatusCreated, saved, err)
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondEngineError(w, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return
	}

	rule, err := s.engine.Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondEngineError(w, "failed to get rule", err)
		return
	}
	if err := req.apply(rule); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	saved, err := s.engine.Save(rule, actor(r))
	respondRule(w, http.StatusOK, saved, err)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Delete(chi.URLParam(r, "ruleId"))
	var conflict *rules.ReloadConflictError
	if err != nil && !errors.As(err, &conflict) {
		respondEngineError(w, "failed to delete rule", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.Activate(chi.URLParam(r, "ruleId"), actor(r))
	respondRule(w, http.StatusOK, rule, err)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.Deactivate(chi.URLParam(r, "ruleId"), actor(r))
	respondRule(w, http.StatusOK, rule, err)
}

// Validate a body without storing it
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "body is required")
		return
	}

	s.validate(w, req.Body)
}

// Re-validate a stored rule without changing it
func (s *Server) handleValidateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondEngineError(w, "failed to get rule", err)
		return
	}
	s.validate(w, rule.Body)
}

func (s *Server) validate(w http.ResponseWriter, body string) {
	res, err := s.engine.Validate(body)
	if err != nil {
		respondEngineError(w, "failed to validate rule", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.engine.Categories()
	if err != nil {
		respondEngineError(w, "failed to list categories", err)
		return
	}
	if cats == nil {
		cats = []string{}
	}
	respondJSON(w, http.StatusOK, cats)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Statistics()
	if err != nil {
		respondEngineError(w, "failed to compute statistics", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Templates are the built-in rules, offered as starting points
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	seed, err := rules.DefaultSeed()
	if err != nil {
		respondEngineError(w, "failed to load templates", err)
		return
	}

	out := make([]TemplateResponse, len(seed))
	for i, rule := range seed {
		out[i] = TemplateResponse{
			Name:        rule.Name,
			Description: rule.Description,
			Category:    rule.Category,
			Content:     rule.Body,
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// Execute handler returns the customer with decisions applied
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	customer, ok := decodeCustomer(w, r)
	if !ok {
		return
	}

	if _, err := s.engine.Execute(customer); err != nil {
		respondEngineError(w, "rule execution failed", err)
		return
	}
	respondJSON(w, http.StatusOK, customer)
}

// Evaluate handler also reports the rules that fired
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	customer, ok := decodeCustomer(w, r)
	if !ok {
		return
	}

	res, err := s.engine.Evaluate(customer)
	if err != nil {
		respondEngineError(w, "rule execution failed", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Customer:      customer,
		FiredRules:    res.Fired,
		Generation:    res.Generation,
		ExecutionTime: res.Duration.String(),
	})
}

func (s *Server) handleContainer(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, containerResponse(s.engine.Snapshot()))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Reload()
	var conflict *rules.ReloadConflictError
	if errors.As(err, &conflict) {
		resp := containerResponse(snap)
		resp.Warning = conflict.Error()
		respondJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		respondEngineError(w, "failed to reload rules", err)
		return
	}
	respondJSON(w, http.StatusOK, containerResponse(snap))
}

func containerResponse(snap *rules.Snapshot) ContainerResponse {
	refs := snap.Rules
	if refs == nil {
		refs = []rules.RuleRef{}
	}
	return ContainerResponse{
		Generation: snap.Generation,
		LoadedAt:   snap.LoadedAt,
		Rules:      refs,
		Enabled:    snap.KB.Len(),
	}
}

func decodeCustomer(w http.ResponseWriter, r *http.Request) (*facts.Customer, bool) {
	var customer facts.Customer
	if err := json.NewDecoder(r.Body).Decode(&customer); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid customer: "+err.Error())
		return nil, false
	}
	return &customer, true
}

// actor is the caller named in the X-User header; the engine records
// SYSTEM when it is missing.
func actor(r *http.Request) string {
	return r.Header.Get(actorHeader)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Code:      code,
		Message:   message,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// respondRule writes a saved rule. A reload conflict still returns the
// stored rule, with a warning.
func respondRule(w http.ResponseWriter, status int, rule *rules.Rule, err error) {
	var conflict *rules.ReloadConflictError
	if errors.As(err, &conflict) && rule != nil {
		respondJSON(w, status, RuleResponse{Rule: rule, Warning: conflict.Error()})
		return
	}
	if err != nil {
		respondEngineError(w, "failed to save rule", err)
		return
	}
	respondJSON(w, status, RuleResponse{Rule: rule})
}

// respondEngineError maps engine errors onto HTTP statuses.
func respondEngineError(w http.ResponseWriter, message string, err error) {
	var evalErr *ruleset.EvalError
	switch {
	case errors.Is(err, rules.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, rules.ErrDuplicateName):
		respondError(w, http.StatusConflict, "DUPLICATE_NAME", err.Error())
	case errors.Is(err, rules.ErrInvalidRule):
		respondError(w, http.StatusBadRequest, "INVALID_RULE", err.Error())
	case errors.As(err, &evalErr):
		respondError(w, http.StatusUnprocessableEntity, "EXECUTION_FAILED", err.Error())
	case errors.Is(err, rules.ErrEngineUnavailable):
		logger.Error(message, "error", err)
		respondError(w, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", err.Error())
	default:
		logger.Error(message, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
	}
}
