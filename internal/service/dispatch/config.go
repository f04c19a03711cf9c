package dispatch

import (
	"fmt"
	"os"
	"strings"
	"time"

	"support-dispatch-backend/internal/model"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// SLA is the time from session start by which a human must be
	// assigned, per priority.
	SLA map[model.Priority]time.Duration
	// BaseWeights are the queue score floors per priority.
	BaseWeights map[model.Priority]float64

	WaitMinuteWeight float64
	TransferBonus    float64
	EscalationBoost  float64

	AverageHandleMinutes int
	MinimumWaitMinutes   int
	NoAgentWaitMinutes   int

	SLAScanInterval         time.Duration
	EstimateRefreshInterval time.Duration

	LiveTTL    time.Duration
	ArchiveTTL time.Duration

	DefaultMaxSessions int
	// RecentEndedLimit bounds the in-memory index of ended sessions kept
	// so that repeated EndSession calls fail as invalid transitions.
	RecentEndedLimit int

	CategorySkills    map[string][]string
	UrgentCategories  []string
	HighPriorityRoles []model.RequesterRole
}

func DefaultConfig() Config {
	return Config{
		SLA: map[model.Priority]time.Duration{
			model.PriorityUrgent: 5 * time.Minute,
			model.PriorityHigh:   15 * time.Minute,
			model.PriorityMedium: 60 * time.Minute,
			model.PriorityLow:    240 * time.Minute,
		},
		BaseWeights: map[model.Priority]float64{
			model.PriorityUrgent: 1000,
			model.PriorityHigh:   500,
			model.PriorityMedium: 100,
			model.PriorityLow:    10,
		},
		WaitMinuteWeight:        1,
		TransferBonus:           100,
		EscalationBoost:         10000,
		AverageHandleMinutes:    10,
		MinimumWaitMinutes:      2,
		NoAgentWaitMinutes:      15,
		SLAScanInterval:         60 * time.Second,
		EstimateRefreshInterval: 30 * time.Second,
		LiveTTL:                 24 * time.Hour,
		ArchiveTTL:              7 * 24 * time.Hour,
		DefaultMaxSessions:      3,
		RecentEndedLimit:        1000,
		CategorySkills: map[string][]string{
			"payment_issue":  {"billing"},
			"refund":         {"billing"},
			"order_issue":    {"orders"},
			"delivery_issue": {"delivery"},
			"account":        {"account"},
			"technical":      {"technical"},
			"menu":           {"restaurant_ops"},
			"emergency":      {"safety"},
			"safety":         {"safety"},
		},
		UrgentCategories:  []string{"emergency", "safety"},
		HighPriorityRoles: []model.RequesterRole{model.RoleDriver, model.RoleRestaurantOwner},
	}
}

func (c Config) Validate() error {
	for _, p := range []model.Priority{model.PriorityLow, model.PriorityMedium, model.PriorityHigh, model.PriorityUrgent} {
		if c.SLA[p] <= 0 {
			return fmt.Errorf("dispatch config: SLA for %s must be positive", p)
		}
	}
	if c.SLAScanInterval <= 0 || c.EstimateRefreshInterval <= 0 {
		return fmt.Errorf("dispatch config: monitor intervals must be positive")
	}
	if c.AverageHandleMinutes <= 0 {
		return fmt.Errorf("dispatch config: average handle minutes must be positive")
	}
	if c.DefaultMaxSessions <= 0 {
		return fmt.Errorf("dispatch config: default max sessions must be positive")
	}
	return nil
}

func (c Config) slaFor(p model.Priority) time.Duration {
	if d, ok := c.SLA[p]; ok {
		return d
	}
	return c.SLA[model.PriorityMedium]
}

func (c Config) skillsForCategory(category string) []string {
	return c.CategorySkills[strings.ToLower(strings.TrimSpace(category))]
}

func (c Config) isUrgentCategory(category string) bool {
	category = strings.ToLower(strings.TrimSpace(category))
	for _, u := range c.UrgentCategories {
		if u == category {
			return true
		}
	}
	return false
}

func (c Config) isHighPriorityRole(role model.RequesterRole) bool {
	for _, r := range c.HighPriorityRoles {
		if r == role {
			return true
		}
	}
	return false
}

type fileConfig struct {
	SLAMinutes              map[string]int      `yaml:"sla_minutes"`
	BaseWeights             map[string]float64  `yaml:"base_weights"`
	WaitMinuteWeight        float64             `yaml:"wait_minute_weight"`
	TransferBonus           float64             `yaml:"transfer_bonus"`
	EscalationBoost         float64             `yaml:"escalation_boost"`
	AverageHandleMinutes    int                 `yaml:"average_handle_minutes"`
	MinimumWaitMinutes      int                 `yaml:"minimum_wait_minutes"`
	NoAgentWaitMinutes      int                 `yaml:"no_agent_wait_minutes"`
	SLAScanInterval         string              `yaml:"sla_scan_interval"`
	EstimateRefreshInterval string              `yaml:"estimate_refresh_interval"`
	LiveTTL                 string              `yaml:"live_ttl"`
	ArchiveTTL              string              `yaml:"archive_ttl"`
	DefaultMaxSessions      int                 `yaml:"default_max_sessions"`
	RecentEndedLimit        int                 `yaml:"recent_ended_limit"`
	CategorySkills          map[string][]string `yaml:"category_skills"`
	UrgentCategories        []string            `yaml:"urgent_categories"`
	HighPriorityRoles       []string            `yaml:"high_priority_roles"`
}

// LoadConfigFile overlays the non-zero values of a YAML file on
// DefaultConfig.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("dispatch config: read %s: %w", path, err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("dispatch config: parse: %w", err)
	}

	for name, minutes := range fc.SLAMinutes {
		p := model.Priority(name)
		if !p.Valid() {
			return Config{}, fmt.Errorf("dispatch config: unknown priority %q", name)
		}
		cfg.SLA[p] = time.Duration(minutes) * time.Minute
	}
	for name, weight := range fc.BaseWeights {
		p := model.Priority(name)
		if !p.Valid() {
			return Config{}, fmt.Errorf("dispatch config: unknown priority %q", name)
		}
		cfg.BaseWeights[p] = weight
	}

	setFloat(&cfg.WaitMinuteWeight, fc.WaitMinuteWeight)
	setFloat(&cfg.TransferBonus, fc.TransferBonus)
	setFloat(&cfg.EscalationBoost, fc.EscalationBoost)
	setInt(&cfg.AverageHandleMinutes, fc.AverageHandleMinutes)
	setInt(&cfg.MinimumWaitMinutes, fc.MinimumWaitMinutes)
	setInt(&cfg.NoAgentWaitMinutes, fc.NoAgentWaitMinutes)
	setInt(&cfg.DefaultMaxSessions, fc.DefaultMaxSessions)
	setInt(&cfg.RecentEndedLimit, fc.RecentEndedLimit)

	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{fc.SLAScanInterval, &cfg.SLAScanInterval},
		{fc.EstimateRefreshInterval, &cfg.EstimateRefreshInterval},
		{fc.LiveTTL, &cfg.LiveTTL},
		{fc.ArchiveTTL, &cfg.ArchiveTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("dispatch config: %w", err)
		}
		*d.dst = parsed
	}

	for category, skills := range fc.CategorySkills {
		cfg.CategorySkills[strings.ToLower(category)] = skills
	}
	if len(fc.UrgentCategories) > 0 {
		cfg.UrgentCategories = fc.UrgentCategories
	}
	if len(fc.HighPriorityRoles) > 0 {
		roles := make([]model.RequesterRole, 0, len(fc.HighPriorityRoles))
		for _, r := range fc.HighPriorityRoles {
			role := model.RequesterRole(r)
			if !role.Valid() {
				return Config{}, fmt.Errorf("dispatch config: unknown role %q", r)
			}
			roles = append(roles, role)
		}
		cfg.HighPriorityRoles = roles
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
