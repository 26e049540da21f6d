package rules

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint.
const uniqueViolation = "23505"

const ruleColumns = `id, name, description, body, status, version, priority, category,
	tags, template, validation_errors, created_at, updated_at, created_by, updated_by`

// PostgresRuleStore implements RuleStore backed by PostgreSQL
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*Rule, error) {
	var r Rule
	var status string
	var tags pq.StringArray
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Description,
		&r.Body,
		&status,
		&r.Version,
		&r.Priority,
		&r.Category,
		&tags,
		&r.Template,
		&r.ValidationErrors,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.CreatedBy,
		&r.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.Tags = []string(tags)
	return &r, nil
}

func mapWriteError(name string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("rule %q: %w", name, ErrDuplicateName)
	}
	return err
}

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(rule *Rule) error {
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO business_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, rule.ID, rule.Name, rule.Description, rule.Body, string(rule.Status), rule.Version,
		rule.Priority, rule.Category, tagsArray(rule.Tags), rule.Template, rule.ValidationErrors,
		rule.CreatedAt, rule.UpdatedAt, rule.CreatedBy, rule.UpdatedBy)

	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", mapWriteError(rule.Name, err))
	}

	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	if !isUUID(id) {
		return nil, notFound(id)
	}
	rule, err := scanRule(s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM business_rules
		WHERE id = $1
	`, id))

	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// GetByName retrieves a rule by name, ignoring case
func (s *PostgresRuleStore) GetByName(name string) (*Rule, error) {
	rule, err := scanRule(s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM business_rules
		WHERE lower(name) = lower($1)
	`, name))

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule named %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// List returns the rules matching filter
func (s *PostgresRuleStore) List(filter ListFilter) ([]*Rule, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("lower(category) = lower($%d)", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d OR body ILIKE $%d)", n, n, n))
	}

	query := `SELECT ` + ruleColumns + ` FROM business_rules`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY priority ASC, name ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// ListActive returns all active rules ordered by priority then name
func (s *PostgresRuleStore) ListActive() ([]*Rule, error) {
	return s.List(ListFilter{Status: StatusActive})
}

// Update modifies an existing rule. Creation metadata is never rewritten.
func (s *PostgresRuleStore) Update(rule *Rule) error {
	if !isUUID(rule.ID) {
		return notFound(rule.ID)
	}
	rule.UpdatedAt = time.Now().UTC()

	err := s.db.QueryRow(`
		UPDATE business_rules
		SET name = $1, description = $2, body = $3, status = $4, version = $5,
			priority = $6, category = $7, tags = $8, template = $9,
			validation_errors = $10, updated_at = $11, updated_by = $12
		WHERE id = $13
		RETURNING created_at, created_by
	`, rule.Name, rule.Description, rule.Body, string(rule.Status), rule.Version,
		rule.Priority, rule.Category, tagsArray(rule.Tags), rule.Template,
		rule.ValidationErrors, rule.UpdatedAt, rule.UpdatedBy, rule.ID,
	).Scan(&rule.CreatedAt, &rule.CreatedBy)

	if err == sql.ErrNoRows {
		return notFound(rule.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", mapWriteError(rule.Name, err))
	}

	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(id string) error {
	if !isUUID(id) {
		return notFound(id)
	}
	result, err := s.db.Exec(`
		DELETE FROM business_rules
		WHERE id = $1
	`, id)

	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound(id)
	}

	return nil
}

// Statistics counts rules by status and category
func (s *PostgresRuleStore) Statistics() (Statistics, error) {
	stats := NewStatistics()

	rows, err := s.db.Query(`
		SELECT status, category, validation_errors <> '' AS has_errors, count(*)
		FROM business_rules
		GROUP BY status, category, has_errors
	`)
	if err != nil {
		return stats, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, category string
		var hasErrors bool
		var n int
		if err := rows.Scan(&status, &category, &hasErrors, &n); err != nil {
			return stats, fmt.Errorf("failed to scan statistics: %w", err)
		}
		stats.Total += n
		stats.ByStatus[Status(status)] += n
		if category != "" {
			stats.ByCategory[category] += n
		}
		if hasErrors {
			stats.WithErrors += n
		}
	}

	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating statistics: %w", err)
	}
	return stats, nil
}

// Categories returns the distinct categories in alphabetical order
func (s *PostgresRuleStore) Categories() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT category
		FROM business_rules
		WHERE category <> ''
		ORDER BY category
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// isUUID guards the uuid column: any other ID cannot exist.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// tagsArray never returns NULL; the column is NOT NULL.
func tagsArray(tags []string) pq.StringArray {
	if tags == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(tags)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
