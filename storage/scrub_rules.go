package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrRuleNotFound = errors.New("scrub rule not found")

var DefaultScrubPatterns = []string{
	"authorization",
	"api_key",
	"api-key",
	"apikey",
	"password",
	"passwd",
	"secret",
	"access_token",
	"refresh_token",
	"session_id",
	"cookie",
}

type ScrubRule struct {
	ID        string
	Pattern   string
	CreatedAt int64
}

type ScrubRuleRepo interface {
	GetAll() ([]*ScrubRule, error)
	Create(pattern string) (*ScrubRule, error)
	Delete(id string) error
	Seed() error
}

type SQLiteScrubRuleRepo struct {
	db *sql.DB
}

func NewSQLiteScrubRuleRepo(db *sql.DB) *SQLiteScrubRuleRepo {
	return &SQLiteScrubRuleRepo{db: db}
}

func (r *SQLiteScrubRuleRepo) GetAll() ([]*ScrubRule, error) {
	rows, err := r.db.Query("SELECT id, pattern, created_at FROM scrub_rules ORDER BY created_at ASC, pattern ASC")
	if err != nil {
		return nil, fmt.Errorf("query scrub_rules: %w", err)
	}
	defer rows.Close()

	var rules []*ScrubRule
	for rows.Next() {
		rule := &ScrubRule{}
		if err := rows.Scan(&rule.ID, &rule.Pattern, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scrub_rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Create stores patterns lowercased; matching is case-insensitive anyway and
// this keeps the UNIQUE constraint meaningful.
func (r *SQLiteScrubRuleRepo) Create(pattern string) (*ScrubRule, error) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	rule := &ScrubRule{
		ID:        ulid.Make().String(),
		Pattern:   pattern,
		CreatedAt: time.Now().UnixMilli(),
	}

	_, err := r.db.Exec(
		"INSERT INTO scrub_rules (id, pattern, created_at) VALUES (?, ?, ?)",
		rule.ID, rule.Pattern, rule.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert scrub_rule: %w", err)
	}
	return rule, nil
}

func (r *SQLiteScrubRuleRepo) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM scrub_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete scrub_rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *SQLiteScrubRuleRepo) Seed() error {
	now := time.Now().UnixMilli()
	for _, pattern := range DefaultScrubPatterns {
		_, err := r.db.Exec(
			"INSERT OR IGNORE INTO scrub_rules (id, pattern, created_at) VALUES (?, ?, ?)",
			ulid.Make().String(), pattern, now,
		)
		if err != nil {
			return fmt.Errorf("seed scrub_rule %s: %w", pattern, err)
		}
	}
	return nil
}
