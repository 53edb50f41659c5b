// Package topology discovers member workspaces for a team (§3 "Member
// record", §4.7 step 1-2). It never writes to a workspace: that is the job
// of the external `bm teams sync`. It only enumerates what is already on
// disk and resolves the launch command for each member.
package topology

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"

	"github.com/botminter/bm/internal/config"
)

// Member is one discovered member workspace, ready to hand to the
// supervisor.
type Member struct {
	Name       string
	Workspace  string
	PromptPath string
	Command    string
	Args       []string
	Env        []string // "KEY=VALUE" additions, e.g. the GitHub token
	HeadCommit string   // best-effort, empty if not a git repo or unreadable
}

// Launcher resolves the command used to invoke a member's agent runner. It
// is opaque to the daemon (§1, GLOSSARY "Launcher"); bm only needs to know
// how to exec it. The default launcher is the `bm-launch` executable found
// on PATH, matching the real tool's external member-launcher contract.
type Launcher struct {
	Command string
	Args    []string
}

// DefaultLauncher is used when no override is configured.
var DefaultLauncher = Launcher{Command: "bm-launch"}

// Discover enumerates member workspaces for team under workspaceRoot. If
// team.Members is non-empty it is treated as the authoritative list;
// otherwise every subdirectory of workspaceRoot containing a PROMPT.md is
// treated as a member, named after the directory.
func Discover(team config.Team, launcher Launcher) ([]Member, error) {
	root := team.WorkspaceRoot
	names := team.Members
	if len(names) == 0 {
		discovered, err := scanForMembers(root)
		if err != nil {
			return nil, err
		}
		names = discovered
	}

	token := team.GitHubToken()
	members := make([]Member, 0, len(names))
	for _, name := range names {
		ws := filepath.Join(root, name)
		prompt := filepath.Join(ws, "PROMPT.md")
		if _, err := os.Stat(prompt); err != nil {
			continue // member directory vanished or has no prompt; skip, don't fail the cycle
		}

		m := Member{
			Name:       name,
			Workspace:  ws,
			PromptPath: prompt,
			Command:    launcher.Command,
			Args:       append(append([]string{}, launcher.Args...), "--prompt", prompt),
		}
		if token != "" {
			m.Env = append(m.Env, "GITHUB_TOKEN="+token)
		}
		m.HeadCommit = readHead(ws)
		members = append(members, m)
	}
	return members, nil
}

func scanForMembers(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // empty topology, §4.7: caller logs WARN "no workspace found"
		}
		return nil, fmt.Errorf("reading workspace root %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), "PROMPT.md")); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// readHead opens ws as a git repository (read-only) and returns its current
// commit hash, for inclusion in cycle-start diagnostics. Workspaces are
// clones of the team control-plane repo maintained by `bm teams sync`; bm
// itself never clones or fetches, it only reads the HEAD that sync left
// behind.
func readHead(ws string) string {
	repo, err := git.PlainOpen(ws)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}
