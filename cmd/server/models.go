package main

import (
	"time"

	"github.com/liamcoop/ruleops/rules"
	"github.com/liamcoop/ruleops/rules/facts"
)

// API request and response models

// CreateRuleRequest represents the request body for creating a rule
type CreateRuleRequest struct {
	Name        string   `json:"name" example:"Young customer discount"`
	Description string   `json:"description" example:"Customers under 25 get the youth discount"`
	Body        string   `json:"body" example:"rule \"Young customer discount\"\nwhen\n    age < 25\nthen\n    discount = \"15%\"\nend"`
	Status      string   `json:"status,omitempty" example:"DRAFT"`
	Priority    int      `json:"priority,omitempty" example:"100"`
	Category    string   `json:"category,omitempty" example:"discounts"`
	Tags        []string `json:"tags,omitempty"`
	Template    string   `json:"template,omitempty"`
}

// UpdateRuleRequest represents the request body for updating a rule.
// Omitted fields keep their stored value.
type UpdateRuleRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Body        *string   `json:"body,omitempty"`
	Status      *string   `json:"status,omitempty"`
	Priority    *int      `json:"priority,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Template    *string   `json:"template,omitempty"`
}

// apply overlays the request on a stored rule.
func (req UpdateRuleRequest) apply(r *rules.Rule) error {
	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.Description != nil {
		r.Description = *req.Description
	}
	if req.Body != nil {
		r.Body = *req.Body
	}
	if req.Status != nil {
		st, err := rules.ParseStatus(*req.Status)
		if err != nil {
			return err
		}
		r.Status = st
	}
	if req.Priority != nil {
		r.Priority = *req.Priority
	}
	if req.Category != nil {
		r.Category = *req.Category
	}
	if req.Tags != nil {
		r.Tags = *req.Tags
	}
	if req.Template != nil {
		r.Template = *req.Template
	}
	return nil
}

// RuleResponse is a stored rule. Warning is set when the change was
// stored but the active rule set could not be reloaded.
type RuleResponse struct {
	*rules.Rule
	Warning string `json:"warning,omitempty"`
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
	Count int           `json:"count"`
}

// ValidateRequest carries a rule body to validate without storing it
type ValidateRequest struct {
	Body string `json:"body"`
}

// EvaluateResponse is a customer after rule execution, with the rules
// that fired
type EvaluateResponse struct {
	Customer      *facts.Customer `json:"customer"`
	FiredRules    []string        `json:"firedRules"`
	Generation    uint64          `json:"generation"`
	ExecutionTime string          `json:"executionTime" example:"152µs"`
}

// ContainerResponse describes the rule set in service
type ContainerResponse struct {
	Generation uint64          `json:"generation"`
	LoadedAt   time.Time       `json:"loadedAt"`
	Rules      []rules.RuleRef `json:"rules"`
	Enabled    int             `json:"enabledRules"`
	Warning    string          `json:"warning,omitempty"`
}

// TemplateResponse is a starting point for a new rule
type TemplateResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Content     string `json:"content"`
}

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Code      string    `json:"code" example:"NOT_FOUND"`
	Message   string    `json:"message"`
	Status    int       `json:"status" example:"404"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse reports service health
type HealthResponse struct {
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Store       string `json:"store"`
	Generation  uint64 `json:"generation"`
	ActiveRules int    `json:"activeRules"`
}
