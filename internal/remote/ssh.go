// Package remote runs commands on the legacy source host over SSH.
// The only consumer is the contents-listing staleness signal.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/iangow/db2pq/internal/core"
)

// Config carries the SSH connection parameters.
type Config struct {
	Host       string
	Port       int
	User       string
	KeyFile    string
	KnownHosts string // host key verification is skipped when empty
	Timeout    time.Duration
}

type Executor struct {
	cfg     Config
	sshConf *ssh.ClientConfig
}

// NewExecutor builds an executor from cfg. The key file is read once,
// at construction.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("remote host not configured")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	keyData, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
	}

	return &Executor{
		cfg: cfg,
		sshConf: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.Timeout,
		},
	}, nil
}

// RunRemote executes command on the remote host and returns its stdout.
// A fresh connection per call; the listing signal is checked at most
// once per table.
func (e *Executor) RunRemote(ctx context.Context, command string) (string, error) {
	addr := net.JoinHostPort(e.cfg.Host, fmt.Sprintf("%d", e.cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dialing %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, e.sshConf)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening ssh session: %w", err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout
	if err := session.Run(command); err != nil {
		return "", fmt.Errorf("remote command failed: %w", err)
	}
	return stdout.String(), nil
}

var _ core.RemoteExecutor = (*Executor)(nil)
