package probe

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rileyhilliard/proxymon/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type cannedExec struct {
	stdout string
	stderr string
	status uint32
	hang   bool
}

// startSSHServer serves exec requests from canned responses keyed by command.
func startSSHServer(t *testing.T, password string, responses map[string]cannedExec) SSHEndpoint {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, errors.New(errors.ErrTransport, "denied", "")
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(conn, config, responses)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return SSHEndpoint{Host: host, Port: port, Username: "admin", Password: password}
}

func serveSSHConn(conn net.Conn, config *ssh.ServerConfig, responses map[string]cannedExec) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" || len(req.Payload) < 4 {
					_ = req.Reply(false, nil)
					continue
				}
				cmd := string(req.Payload[4:])
				_ = req.Reply(true, nil)

				resp := responses[cmd]
				if resp.hang {
					time.Sleep(5 * time.Second)
					return
				}
				_, _ = ch.Write([]byte(resp.stdout))
				_, _ = ch.Stderr().Write([]byte(resp.stderr))
				status := make([]byte, 4)
				binary.BigEndian.PutUint32(status, resp.status)
				_, _ = ch.SendRequest("exit-status", false, status)
				return
			}
		}()
	}
}

func TestSSHRunner_Run(t *testing.T) {
	ep := startSSHServer(t, "s3cret", map[string]cannedExec{
		"mem":     {stdout: "37.25"},
		"partial": {stdout: "12", status: 1},
		"fail":    {stderr: "permission denied\n", status: 1},
		"silent":  {status: 2},
	})

	runner, err := NewSSHRunner(SSHOptions{HostKeyPolicy: HostKeyInsecure, ConnectTimeout: 2 * time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	out, err := runner.Run(ctx, ep, "mem")
	require.NoError(t, err)
	assert.Equal(t, "37.25", out)

	out, err = runner.Run(ctx, ep, "partial")
	require.NoError(t, err, "non-zero exit with output still returns output")
	assert.Equal(t, "12", out)

	_, err = runner.Run(ctx, ep, "fail")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTransport))
	assert.Contains(t, errors.Message(err), "permission denied")

	_, err = runner.Run(ctx, ep, "silent")
	require.Error(t, err)
	assert.Contains(t, errors.Message(err), "exit status 2")
}

func TestSSHRunner_WrongPassword(t *testing.T) {
	ep := startSSHServer(t, "s3cret", nil)
	ep.Password = "nope"

	runner, err := NewSSHRunner(SSHOptions{ConnectTimeout: 2 * time.Second})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), ep, "mem")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTransport))
}

func TestSSHRunner_ContextTimeout(t *testing.T) {
	ep := startSSHServer(t, "s3cret", map[string]cannedExec{"slow": {hang: true}})

	runner, err := NewSSHRunner(SSHOptions{ConnectTimeout: 2 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = runner.Run(ctx, ep, "slow")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSSHRunner_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	runner, err := NewSSHRunner(SSHOptions{ConnectTimeout: time.Second})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), SSHEndpoint{Host: "127.0.0.1", Port: addr.Port}, "mem")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrTransport))
}

func TestNewSSHRunner_Policies(t *testing.T) {
	_, err := NewSSHRunner(SSHOptions{HostKeyPolicy: "reject-all"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	_, err = NewSSHRunner(SSHOptions{HostKeyPolicy: HostKeyKnownHosts, KnownHostsPath: "/nonexistent/known_hosts"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	r, err := NewSSHRunner(SSHOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConnectTimeout, r.connectTimeout)
}

func TestHostKeyMismatchSuggestion(t *testing.T) {
	e := &HostKeyMismatchError{Hostname: "10.0.0.5:22", ReceivedType: "ssh-ed25519", KnownHosts: "/tmp/kh"}
	assert.Contains(t, e.Error(), "10.0.0.5:22")
	assert.Contains(t, e.Suggestion(), "ssh-keygen -R 10.0.0.5 -f /tmp/kh")
	assert.Contains(t, e.Suggestion(), "Known types: unknown")
}
