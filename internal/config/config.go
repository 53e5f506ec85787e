// Package config provides hierarchical configuration loading for rollout.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"time"

	"github.com/roach88/rollout/internal/code"
)

// Config holds all runtime configuration for a rollout process.
type Config struct {
	Environment string    `yaml:"environment"`
	Logging     Logging   `yaml:"logging"`
	Scheduler   Scheduler `yaml:"scheduler"`
	Executor    Executor  `yaml:"executor"`
	Store       Store     `yaml:"store"`
	Code        Code      `yaml:"code"`
	NATS        NATS      `yaml:"nats"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // "json" | "text" (default: "text")
	Service string `yaml:"service"`
}

// Scheduler holds deploy pass configuration.
type Scheduler struct {
	MaxConcurrency int           `yaml:"max_concurrency"` // Gate permits (default: 8)
	CallTimeout    time.Duration `yaml:"call_timeout"`    // Per executor call (default: 5m)
	PropagateSkip  bool          `yaml:"propagate_skip"`  // Skip dependents of failed resources (default: true)
}

// Executor holds executor process configuration.
type Executor struct {
	// Binary is the executor executable. Empty means the running binary.
	Binary        string        `yaml:"binary"`
	MaxFrameBytes int           `yaml:"max_frame_bytes"`
	JoinTimeout   time.Duration `yaml:"join_timeout"`
	// Env lists KEY=VALUE pairs passed to executor children. Nothing else
	// from the parent environment is inherited.
	Env []string `yaml:"env"`
}

// Store holds persistence configuration.
type Store struct {
	Path string `yaml:"path"`
}

// Code holds handler code resolution configuration.
type Code struct {
	BaseDir      string        `yaml:"base_dir"`
	CacheEntries int64         `yaml:"cache_entries"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	Bundles      []code.Bundle `yaml:"bundles"`
}

// NATS holds state event publishing configuration. An empty URL disables
// publishing.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Stream        string `yaml:"stream"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Environment: "default",
		Logging: Logging{
			Level:   "info",
			Format:  "text",
			Service: "rollout",
		},
		Scheduler: Scheduler{
			MaxConcurrency: 8,
			CallTimeout:    5 * time.Minute,
			PropagateSkip:  true,
		},
		Executor: Executor{
			MaxFrameBytes: 64 << 20,
			JoinTimeout:   10 * time.Second,
		},
		Store: Store{
			Path: "rollout.db",
		},
		Code: Code{
			CacheEntries: 1024,
			CacheTTL:     10 * time.Minute,
		},
		NATS: NATS{
			SubjectPrefix: "rollout.state",
			Stream:        "ROLLOUT_STATE",
		},
	}
}
