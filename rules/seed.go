package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/ruleops/internal/logger"
)

//go:embed default_rules.yaml
var defaultRules []byte

// SeedRule is one rule in a seed file.
type SeedRule struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
	Template    string   `yaml:"template"`
	Status      string   `yaml:"status"`
	Body        string   `yaml:"body"`
}

// SeedFile is the YAML document of a seed file.
type SeedFile struct {
	Rules []SeedRule `yaml:"rules"`
}

// ParseSeed decodes a seed document into rules ready to save.
func ParseSeed(r io.Reader) ([]*Rule, error) {
	var doc SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode seed rules: %w", err)
	}

	out := make([]*Rule, 0, len(doc.Rules))
	for i, s := range doc.Rules {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("seed rule %d: name is required", i+1)
		}
		var status Status
		if s.Status != "" {
			st, err := ParseStatus(s.Status)
			if err != nil {
				return nil, fmt.Errorf("seed rule %q: %w", s.Name, err)
			}
			status = st
		}
		out = append(out, &Rule{
			Name:        s.Name,
			Description: s.Description,
			Body:        s.Body,
			Status:      status,
			Priority:    s.Priority,
			Category:    s.Category,
			Tags:        s.Tags,
			Template:    s.Template,
		})
	}
	return out, nil
}

// LoadSeedFile reads seed rules from path.
func LoadSeedFile(path string) ([]*Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// DefaultSeed returns the built-in default rules.
func DefaultSeed() ([]*Rule, error) {
	return ParseSeed(strings.NewReader(string(defaultRules)))
}

// Seed saves every rule whose name is not already stored and returns how
// many were created. Existing rules are never overwritten. A reload
// conflict is logged and seeding continues.
func (en *Engine) Seed(seed []*Rule, actor string) (int, error) {
	created := 0
	for _, r := range seed {
		if _, err := en.store.GetByName(r.Name); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return created, fmt.Errorf("failed to look up seed rule %q: %w", r.Name, err)
		}

		saved, err := en.Save(r, actor)
		var conflict *ReloadConflictError
		if errors.As(err, &conflict) {
			logger.Warn("seed rule conflicts with active rules", "rule", r.Name, "error", err)
			err = nil
		}
		if err != nil {
			return created, fmt.Errorf("failed to save seed rule %q: %w", r.Name, err)
		}
		if saved.Status == StatusError {
			logger.Warn("seed rule failed validation", "rule", saved.Name, "diagnostics", saved.ValidationErrors)
		}
		created++
	}

	if created > 0 {
		logger.Info("seed rules loaded", "created", created, "total", len(seed))
	}
	return created, nil
}
