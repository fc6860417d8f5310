// Package config loads gx's configuration with precedence CLI > environment
// > file, as spec.md §6 requires. Field-list style is grounded on the
// teacher's internal/config/config.go; env-var mapping and the YAML file
// search path are gx-specific generalizations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Verbosity controls how much detail CreateResult/review output renders.
type Verbosity string

const (
	VerbosityCompact  Verbosity = "compact"
	VerbositySummary  Verbosity = "summary"
	VerbosityDetailed Verbosity = "detailed"
	VerbosityFull     Verbosity = "full"
)

// Config is gx's resolved configuration, assembled from defaults, an
// optional YAML file, environment variables, and (by the CLI layer) flags.
type Config struct {
	DefaultUserOrg string `yaml:"default-user-org"`
	TokenPath      string `yaml:"token-path"`
	Jobs           string `yaml:"jobs"`

	RepoDiscovery struct {
		MaxDepth       int      `yaml:"max-depth"`
		IgnorePatterns []string `yaml:"ignore-patterns"`
	} `yaml:"repo-discovery"`

	Output struct {
		Verbosity Verbosity `yaml:"verbosity"`
	} `yaml:"output"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// Default returns a Config with spec.md's implied defaults.
func Default() *Config {
	c := &Config{
		TokenPath: "",
		Jobs:      "nproc",
	}
	c.RepoDiscovery.MaxDepth = 3
	c.RepoDiscovery.IgnorePatterns = nil
	c.Output.Verbosity = VerbositySummary
	c.Logging.Level = "info"
	return c
}

// SearchPaths returns the config file locations gx checks, in precedence
// order (first match wins): ./gx.yml, then ~/.config/gx/gx.yml.
func SearchPaths() []string {
	paths := []string{"gx.yml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "gx", "gx.yml"))
	}
	return paths
}

// Load resolves configuration from defaults, the first config file found on
// SearchPaths, and then GX_-prefixed environment variables, in that
// precedence order (file overrides defaults, env overrides file). CLI flags
// are applied afterwards by the caller (cmd/gx), which has the highest
// precedence per spec.md §6.
func Load() (*Config, error) {
	cfg := Default()

	for _, p := range SearchPaths() {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("could not read config file %s: %w", p, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse config file %s: %w", p, err)
		}
		break
	}

	applyEnv(cfg)

	return cfg, nil
}

// applyEnv overlays GX_-prefixed environment variables, mapping dotted
// config paths to underscored env names per spec.md §6
// (e.g. repo-discovery.max-depth -> GX_REPO_DISCOVERY_MAX_DEPTH, with the
// documented short alias GX_REPO_DEPTH also recognized).
func applyEnv(cfg *Config) {
	if v := os.Getenv("GX_DEFAULT_USER_ORG"); v != "" {
		cfg.DefaultUserOrg = v
	}
	if v := os.Getenv("GX_TOKEN_PATH"); v != "" {
		cfg.TokenPath = v
	}
	if v := os.Getenv("GX_JOBS"); v != "" {
		cfg.Jobs = v
	}
	if v := firstNonEmpty(os.Getenv("GX_REPO_DEPTH"), os.Getenv("GX_REPO_DISCOVERY_MAX_DEPTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RepoDiscovery.MaxDepth = n
		}
	}
	if v := os.Getenv("GX_REPO_DISCOVERY_IGNORE_PATTERNS"); v != "" {
		cfg.RepoDiscovery.IgnorePatterns = strings.Split(v, ",")
	}
	if v := os.Getenv("GX_OUTPUT_VERBOSITY"); v != "" {
		cfg.Output.Verbosity = Verbosity(v)
	}
	if v := os.Getenv("GX_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GX_LOGGING_FILE"); v != "" {
		cfg.Logging.File = v
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ResolveJobs interprets the Jobs config value ("nproc" or a literal count)
// into a worker pool size.
func ResolveJobs(jobs string) int {
	jobs = strings.TrimSpace(jobs)
	if jobs == "" || strings.EqualFold(jobs, "nproc") {
		return runtime.NumCPU()
	}
	n, err := strconv.Atoi(jobs)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// TokenPathFor substitutes the {user_or_org} placeholder in a token-path
// template, per spec.md §4.9/§6.
func TokenPathFor(template, userOrOrg string) string {
	return strings.ReplaceAll(template, "{user_or_org}", userOrOrg)
}
