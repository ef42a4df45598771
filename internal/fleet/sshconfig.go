package fleet

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/kevinburke/ssh_config"
	"github.com/rileyhilliard/proxymon/internal/logger"
)

// SSHResolver fills missing SSH usernames and ports from an OpenSSH client
// config. Explicit values on a target always win.
type SSHResolver struct {
	cfg       *ssh_config.Config
	matchLine int
	log       logger.Logger
	warnOnce  sync.Once
}

// DefaultSSHConfigPath returns ~/.ssh/config.
func DefaultSSHConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".ssh", "config")
}

// NewSSHResolver loads the config at path. A missing or unparseable file
// yields a resolver that changes nothing.
func NewSSHResolver(path string, log logger.Logger) *SSHResolver {
	r := &SSHResolver{log: logger.OrNoop(log)}

	content, matchLine, err := preprocessSSHConfig(path)
	if err != nil {
		return r
	}
	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		r.log.Debug("ignoring unparseable ssh config %s: %v", path, err)
		return r
	}
	r.cfg = cfg
	r.matchLine = matchLine
	return r
}

// Resolve returns t with Username and SSHPort filled from the config when
// they are unset.
func (r *SSHResolver) Resolve(t Target) Target {
	if r == nil || r.cfg == nil {
		return t
	}
	found := false

	if t.Username == "" {
		if user, _ := r.cfg.Get(t.Host, "User"); user != "" {
			t.Username = user
			found = true
		}
	}
	if t.SSHPort == 0 {
		if port, _ := r.cfg.Get(t.Host, "Port"); port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				t.SSHPort = p
				found = true
			}
		}
	}

	if r.matchLine > 0 && !found && (t.Username == "" || t.SSHPort == 0) {
		r.warnOnce.Do(func() {
			r.log.Warn("ssh config has a Match block at line %d; host entries after it are not read", r.matchLine)
		})
	}
	return t
}

// preprocessSSHConfig returns the config content up to the first Match
// directive, which ssh_config cannot parse, and the line it was found on.
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}
