package config

import "testing"

func TestRestartRequiredFields(t *testing.T) {
	base := Team{
		Name: "falcons", Repo: "acme/falcons", SchemaVersion: "1.0",
		GitHubTokenEnv: "TOK", WebhookSecretEnv: "SEC", WorkspaceRoot: "/ws",
	}

	cases := []struct {
		name     string
		mutate   func(Team) Team
		restart  bool
	}{
		{"member list change", func(t Team) Team { t.Members = []string{"researcher"}; return t }, false},
		{"workspace root change", func(t Team) Team { t.WorkspaceRoot = "/new"; return t }, false},
		{"repo change", func(t Team) Team { t.Repo = "acme/other"; return t }, true},
		{"schema change", func(t Team) Team { t.SchemaVersion = "2.0"; return t }, true},
		{"webhook secret env change", func(t Team) Team { t.WebhookSecretEnv = "OTHER"; return t }, true},
		{"github token env change", func(t Team) Team { t.GitHubTokenEnv = "OTHER"; return t }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := restartRequired(base, tc.mutate(base))
			if got != tc.restart {
				t.Fatalf("restartRequired = %v, want %v", got, tc.restart)
			}
		})
	}
}
