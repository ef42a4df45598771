package probe

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/proxymon/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Host key policies.
const (
	HostKeyInsecure   = "insecure"
	HostKeyKnownHosts = "known_hosts"
)

// SSHOptions configures an SSHRunner.
type SSHOptions struct {
	HostKeyPolicy  string
	KnownHostsPath string
	ConnectTimeout time.Duration
}

// SSHRunner runs remote commands over a fresh SSH connection per call using
// password authentication.
type SSHRunner struct {
	hostKeyCallback ssh.HostKeyCallback
	connectTimeout  time.Duration
}

// NewSSHRunner builds a runner for the given host key policy.
func NewSSHRunner(opts SSHOptions) (*SSHRunner, error) {
	r := &SSHRunner{connectTimeout: opts.ConnectTimeout}
	if r.connectTimeout <= 0 {
		r.connectTimeout = DefaultConnectTimeout
	}

	switch opts.HostKeyPolicy {
	case "", HostKeyInsecure:
		r.hostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // appliances are commonly re-imaged
	case HostKeyKnownHosts:
		path := opts.KnownHostsPath
		if path == "" {
			path = filepath.Join(homeDir(), ".ssh", "known_hosts")
		}
		cb, err := createHostKeyCallback(path)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Couldn't load known_hosts from %s", path),
				"Set ssh.known_hosts to a readable file, or use ssh.host_key_policy: insecure")
		}
		r.hostKeyCallback = cb
	default:
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown SSH host key policy %q", opts.HostKeyPolicy),
			"Use insecure or known_hosts")
	}
	return r, nil
}

// Run implements CommandRunner. A non-zero exit with empty stdout is an
// error carrying stderr; a non-zero exit with output returns the output.
func (r *SSHRunner) Run(ctx context.Context, ep SSHEndpoint, cmd string) (string, error) {
	client, err := r.dial(ctx, ep)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("Failed to open SSH session on %s", ep.Host), "")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		client.Close()
		return "", errors.WrapWithCode(ctx.Err(), errors.ErrTransport,
			fmt.Sprintf("Command on %s timed out", ep.Host), "")
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if !stderrors.As(err, &exitErr) {
			return "", errors.WrapWithCode(err, errors.ErrTransport,
				fmt.Sprintf("Failed to execute command on %s", ep.Host), "")
		}
		if stdout.Len() == 0 {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = fmt.Sprintf("exit status %d", exitErr.ExitStatus())
			}
			return "", errors.New(errors.ErrTransport,
				fmt.Sprintf("Command on %s failed: %s", ep.Host, msg), "")
		}
	}
	return stdout.String(), nil
}

func (r *SSHRunner) dial(ctx context.Context, ep SSHEndpoint) (*ssh.Client, error) {
	port := ep.Port
	if port == 0 {
		port = 22
	}
	address := net.JoinHostPort(ep.Host, strconv.Itoa(port))

	config := &ssh.ClientConfig{
		User: ep.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(ep.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = ep.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: r.hostKeyCallback,
		Timeout:         r.connectTimeout,
	}

	dialer := net.Dialer{Timeout: r.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("Can't reach %s", address), suggestionForDialError(err))
	}

	// Bound connect, banner and auth together.
	_ = conn.SetDeadline(time.Now().Add(r.connectTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		var hostKeyErr *HostKeyMismatchError
		if stderrors.As(err, &hostKeyErr) {
			return nil, errors.New(errors.ErrTransport, hostKeyErr.Error(), hostKeyErr.Suggestion())
		}
		return nil, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("SSH handshake with %s didn't go through", address),
			suggestionForHandshakeError(err))
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is SSH running on the proxy?"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the proxy. Check the network path."
	}
	if strings.Contains(errStr, "timeout") {
		return "Connection timed out. The proxy might be offline or firewalled."
	}
	return ""
}

func suggestionForHandshakeError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		return "Check the proxy's SSH username and password in the fleet inventory"
	}
	if strings.Contains(errStr, "host key") {
		return "Host key issue. Update known_hosts or use ssh.host_key_policy: insecure"
	}
	return ""
}

// HostKeyMismatchError reports a known_hosts verification failure.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns steps to fix the mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}
	return fmt.Sprintf("Known types: %s, server sent: %s. Remove the old entry with: ssh-keygen -R %s -f %s",
		wantStr, e.ReceivedType, host, e.KnownHosts)
}

func createHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if err != nil && stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
			return &HostKeyMismatchError{
				Hostname:     hostname,
				ReceivedType: key.Type(),
				KnownHosts:   knownHostsPath,
				Want:         keyErr.Want,
			}
		}
		return err
	}, nil
}
