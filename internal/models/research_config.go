package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResearchConfiguration describes a recurring or ad-hoc research job against
// one external platform. Source type is immutable once created; changing
// source semantics requires a new configuration.
type ResearchConfiguration struct {
	ID             string        `json:"id" badgerhold:"key"`
	Owner          string        `json:"owner"`
	SourceType     SourceType    `json:"source_type"`
	QueryTerms     []string      `json:"query_terms"`
	SubCommunities []string      `json:"sub_communities,omitempty"` // Subreddits, repos, tags - platform dependent
	MaxItems       int           `json:"max_items"`
	MaxItemsPerSub int           `json:"max_items_per_sub"`
	MinScore       int           `json:"min_score"`    // Quality threshold: minimum score/engagement
	MinComments    int           `json:"min_comments"` // Quality threshold: minimum reply count
	Depth          AnalysisDepth `json:"depth"`
	Schedule       string        `json:"schedule,omitempty"` // Optional cron expression for recurring runs
	Active         bool          `json:"active"`
	Deleted        bool          `json:"deleted"` // Soft delete; historical sessions stay valid
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Validate checks configuration invariants at create/update time.
// Configuration errors are rejected synchronously and never reach the supervisor.
func (c *ResearchConfiguration) Validate() error {
	if err := ValidateSourceType(c.SourceType); err != nil {
		return err
	}
	if c.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if len(c.QueryTerms) == 0 {
		return fmt.Errorf("at least one query term is required")
	}
	for _, term := range c.QueryTerms {
		if term == "" {
			return fmt.Errorf("query terms must be non-empty")
		}
	}
	if c.MaxItems <= 0 {
		return fmt.Errorf("max_items must be positive, got %d", c.MaxItems)
	}
	if c.MaxItemsPerSub <= 0 {
		return fmt.Errorf("max_items_per_sub must be positive, got %d", c.MaxItemsPerSub)
	}
	if c.MinScore < 0 {
		return fmt.Errorf("min_score cannot be negative")
	}
	if !c.Depth.IsValid() {
		return fmt.Errorf("unknown analysis depth %q (valid: quick, standard, comprehensive)", c.Depth)
	}
	return nil
}

// ConfigPatch carries the mutable fields of a configuration update.
// Nil fields are left unchanged.
type ConfigPatch struct {
	QueryTerms     []string       `json:"query_terms,omitempty"`
	SubCommunities []string       `json:"sub_communities,omitempty"`
	MaxItems       *int           `json:"max_items,omitempty"`
	MaxItemsPerSub *int           `json:"max_items_per_sub,omitempty"`
	MinScore       *int           `json:"min_score,omitempty"`
	MinComments    *int           `json:"min_comments,omitempty"`
	Depth          *AnalysisDepth `json:"depth,omitempty"`
	Schedule       *string        `json:"schedule,omitempty"`
	Active         *bool          `json:"active,omitempty"`
	SourceType     *SourceType    `json:"source_type,omitempty"` // Always rejected; present so the API can report it
}

// Apply merges a patch into the configuration. Source type changes are
// rejected - source semantics are frozen at creation.
func (c *ResearchConfiguration) Apply(patch *ConfigPatch) error {
	if patch.SourceType != nil && *patch.SourceType != c.SourceType {
		return fmt.Errorf("source type is immutable (create a new configuration to change it)")
	}
	if patch.QueryTerms != nil {
		c.QueryTerms = patch.QueryTerms
	}
	if patch.SubCommunities != nil {
		c.SubCommunities = patch.SubCommunities
	}
	if patch.MaxItems != nil {
		c.MaxItems = *patch.MaxItems
	}
	if patch.MaxItemsPerSub != nil {
		c.MaxItemsPerSub = *patch.MaxItemsPerSub
	}
	if patch.MinScore != nil {
		c.MinScore = *patch.MinScore
	}
	if patch.MinComments != nil {
		c.MinComments = *patch.MinComments
	}
	if patch.Depth != nil {
		c.Depth = *patch.Depth
	}
	if patch.Schedule != nil {
		c.Schedule = *patch.Schedule
	}
	if patch.Active != nil {
		c.Active = *patch.Active
	}
	c.UpdatedAt = time.Now().UTC()
	return c.Validate()
}

// Snapshot serializes the configuration to JSON for snapshot-at-trigger-time
// storage on a session. Later edits never retroactively change a historical
// session's behavior.
func (c *ResearchConfiguration) Snapshot() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to snapshot configuration: %w", err)
	}
	return string(data), nil
}

// ConfigFromSnapshot deserializes a configuration snapshot stored on a session
func ConfigFromSnapshot(snapshot string) (*ResearchConfiguration, error) {
	var config ResearchConfiguration
	if err := json.Unmarshal([]byte(snapshot), &config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration snapshot: %w", err)
	}
	return &config, nil
}
