// Package config loads and validates the team registry: the YAML file that
// maps a team name to its GitHub repo, credentials, and workspace layout.
// The daemon itself never writes this file; it is maintained by `bm init`
// and `bm teams sync` (external collaborators, §1).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/botminter/bm/internal/bmerr"
)

// RequiredSchemaVersion is the schema version the orchestrator requires at
// startup (§4.7). A mismatch is a fatal, exactly-phrased error.
const RequiredSchemaVersion = "1.0"

// Team is one entry in the team registry.
type Team struct {
	Name             string   `yaml:"team"`
	Repo             string   `yaml:"repo"` // "owner/repo"
	SchemaVersion    string   `yaml:"schema_version"`
	GitHubTokenEnv   string   `yaml:"github_token_env"`
	WebhookSecretEnv string   `yaml:"webhook_secret_env"`
	WorkspaceRoot    string   `yaml:"workspace_root"`
	Members          []string `yaml:"members,omitempty"`
}

// Registry is the parsed team registry file.
type Registry struct {
	Teams []Team `yaml:"teams"`
}

// RepoOwnerAndName splits Team.Repo ("owner/repo") into its two parts.
func (t Team) RepoOwnerAndName() (owner, repo string, err error) {
	parts := strings.SplitN(t.Repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", bmerr.Fatal(bmerr.CategoryConfig, fmt.Sprintf("team %q: repo must be owner/repo, got %q", t.Name, t.Repo))
	}
	return parts[0], parts[1], nil
}

// GitHubToken resolves the team's GitHub token from its configured env var.
func (t Team) GitHubToken() string {
	name := t.GitHubTokenEnv
	if name == "" {
		name = "GITHUB_TOKEN"
	}
	return os.Getenv(name)
}

// WebhookSecret resolves the team's webhook shared secret, if configured.
func (t Team) WebhookSecret() string {
	if t.WebhookSecretEnv == "" {
		return ""
	}
	return os.Getenv(t.WebhookSecretEnv)
}

// Load reads and parses the registry at path, loading any .env/.env.local
// sibling files into the process environment first so *_env references
// resolve. Existing process environment variables are never overwritten
// (godotenv.Load's default behavior).
func Load(path string) (*Registry, error) {
	dir := filepath.Dir(path)
	for _, envFile := range []string{".env", ".env.local"} {
		p := filepath.Join(dir, envFile)
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err != nil {
				return nil, bmerr.FatalWrap(err, bmerr.CategoryConfig, "failed to load "+envFile)
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bmerr.FatalWrap(err, bmerr.CategoryConfig, "failed to read team registry "+path)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, bmerr.FatalWrap(err, bmerr.CategoryConfig, "failed to parse team registry "+path)
	}
	return &reg, nil
}

// Find returns the named team, or an error if absent.
func (r *Registry) Find(team string) (Team, error) {
	for _, t := range r.Teams {
		if t.Name == team {
			return t, nil
		}
	}
	return Team{}, bmerr.Fatal(bmerr.CategoryConfig, fmt.Sprintf("unknown team %q", team))
}

// ValidateSchema enforces the §4.7 schema check: the team's schema version
// string must match RequiredSchemaVersion exactly, or startup is fatal with
// the documented phrase "requires schema 1.0".
func ValidateSchema(t Team) error {
	if t.SchemaVersion != RequiredSchemaVersion {
		return bmerr.Fatal(bmerr.CategoryConfig,
			fmt.Sprintf("team %q requires schema %s, found %q", t.Name, RequiredSchemaVersion, t.SchemaVersion))
	}
	return nil
}
