package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates runtime settings.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Overlay opsiq.yaml from configDir (optional file)
//  3. Overlay environment variables (OPS_* keys)
//  4. Validate
//
// Persisted overrides from the operation-settings table are applied later
// via ApplyOverrides, once the database client is available.
func Initialize(_ context.Context, configDir string) (*Settings, error) {
	settings := DefaultSettings()

	path := filepath.Join(configDir, "opsiq.yaml")
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Info("No opsiq.yaml found, using defaults", "path", path)
	case err != nil:
		return nil, NewLoadError(path, err)
	default:
		fileSettings := &Settings{}
		if err := yaml.Unmarshal(ExpandEnv(data), fileSettings); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		if err := mergo.Merge(settings, fileSettings, mergo.WithOverride); err != nil {
			return nil, NewLoadError(path, err)
		}
	}

	applyEnv(settings)

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	slog.Info("Configuration initialized",
		"mode", settings.Mode,
		"timezone", settings.Timezone,
		"cache_ttl", settings.CacheTTL,
		"max_parallel_steps", settings.MaxParallelSteps)
	return settings, nil
}

// applyEnv overlays environment variables onto settings. Environment wins
// over file and defaults but loses to persisted overrides.
func applyEnv(s *Settings) {
	if v := os.Getenv("OPS_MODE"); v != "" {
		s.Mode = OpsMode(v)
	}
	if v := os.Getenv("OPS_ENABLE_LANGGRAPH"); v != "" {
		s.EnableLanggraph = v == "true" || v == "1"
	}
	if v := os.Getenv("OPS_TIMEZONE"); v != "" {
		s.Timezone = v
	}
	if v := os.Getenv("OPS_DEFAULT_SOURCE_ASSET"); v != "" {
		s.DefaultSourceAsset = v
	}
	if v, ok := envInt("OPS_MAX_SEARCH_LIMIT"); ok {
		s.Limits.MaxSearchLimit = v
	}
	if v, ok := envInt("OPS_MAX_AGG_ROWS"); ok {
		s.Limits.MaxAggRows = v
	}
	if v, ok := envInt("OPS_MAX_NODES"); ok {
		s.Limits.MaxNodes = v
	}
	if v, ok := envInt("OPS_MAX_EDGES"); ok {
		s.Limits.MaxEdges = v
	}
	if v := os.Getenv("OPS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.CacheTTL = d
		}
	}
	if v, ok := envInt("OPS_MAX_REPLANS"); ok {
		s.Replan.MaxReplans = v
	}
	if v := os.Getenv("OPS_LLM_BASE_URL"); v != "" {
		s.LLM.BaseURL = v
	}
	if v := os.Getenv("OPS_LLM_MODEL"); v != "" {
		s.LLM.Model = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ApplyOverrides overlays persisted operation-settings rows. Keys use the
// flat names from the settings table; unknown keys are logged and skipped.
func (s *Settings) ApplyOverrides(overrides map[string]string) {
	for key, value := range overrides {
		if err := s.ApplyOverride(key, value); err != nil {
			slog.Warn("Skipping unknown or invalid settings override",
				"key", key, "error", err)
		}
	}
}

// ApplyOverride applies one flat key/value override. Unknown keys return
// ErrUnknownSetting.
func (s *Settings) ApplyOverride(key, value string) error {
	switch key {
	case "ops_mode":
		s.Mode = OpsMode(value)
	case "ops_enable_langgraph":
		s.EnableLanggraph = value == "true" || value == "1"
	case "ops_timezone":
		s.Timezone = value
	case "ops_default_source_asset":
		s.DefaultSourceAsset = value
	case "max_search_limit":
		return setInt(&s.Limits.MaxSearchLimit, value)
	case "max_agg_rows":
		return setInt(&s.Limits.MaxAggRows, value)
	case "max_nodes":
		return setInt(&s.Limits.MaxNodes, value)
	case "max_edges":
		return setInt(&s.Limits.MaxEdges, value)
	case "cache_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		s.CacheTTL = d
	case "max_replans":
		return setInt(&s.Replan.MaxReplans, value)
	case "replan_enabled":
		s.Replan.Enabled = value == "true" || value == "1"
	case "planner_min_confidence":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		s.PlannerMinConfidence = f
	case "max_parallel_steps":
		return setInt(&s.MaxParallelSteps, value)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	return nil
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

// Validate checks settings consistency.
func (s *Settings) Validate() error {
	if s.Mode != OpsModeMock && s.Mode != OpsModeReal {
		return NewValidationError("settings", "ops_mode",
			fmt.Errorf("%w: %q", ErrInvalidValue, s.Mode))
	}
	if s.MaxParallelSteps < 1 {
		return NewValidationError("settings", "max_parallel_steps",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if s.PlannerMinConfidence < 0 || s.PlannerMinConfidence > 1 {
		return NewValidationError("settings", "planner_min_confidence",
			fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue))
	}
	if s.Replan.MaxReplans < 0 {
		return NewValidationError("settings", "max_replans",
			fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	for _, trigger := range s.Replan.AllowedTriggers {
		switch strings.TrimSpace(trigger) {
		case "error", "timeout", "policy_violation":
		default:
			return NewValidationError("settings", "allowed_triggers",
				fmt.Errorf("%w: %q", ErrInvalidValue, trigger))
		}
	}
	return nil
}
