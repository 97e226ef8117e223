package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrNoSSHAuth means no agent, key file or password could be used.
var ErrNoSSHAuth = errors.New("no ssh credentials available")

const sshDialTimeout = 30 * time.Second

// defaultKeyFiles are tried under ~/.ssh when no key file is configured.
var defaultKeyFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// SSHConfig describes how to reach and authenticate against an SFTP host.
// The host key is checked against KnownHosts unless InsecureIgnoreHostKey
// is set explicitly; a missing known_hosts file is an error.
type SSHConfig struct {
	Host                  string
	Port                  int    // 0 means 22
	User                  string // empty means the current user
	KeyFile               string // empty tries the default keys in ~/.ssh
	Password              string
	KnownHosts            string // empty means ~/.ssh/known_hosts
	InsecureIgnoreHostKey bool
}

// Addr is host:port.
func (c SSHConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// ClientConfig resolves credentials and the host key policy. Credentials
// are offered in order: agent, key file, password.
func (c SSHConfig) ClientConfig() (*ssh.ClientConfig, error) {
	name := c.User
	if name == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("determine current user: %w", err)
		}
		name = u.Username
	}
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            name,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         sshDialTimeout,
	}, nil
}

// DialSSH connects and authenticates. ctx bounds the TCP connect and the
// handshake.
func DialSSH(ctx context.Context, c SSHConfig) (*ssh.Client, error) {
	cc, err := c.ClientConfig()
	if err != nil {
		return nil, err
	}
	addr := c.Addr()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sconn, chans, reqs, err := ssh.NewClientConn(conn, addr, cc)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sconn, chans, reqs), nil
}

func (c SSHConfig) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			slog.Debug("ssh agent unavailable", "socket", sock, "error", err)
		}
	}

	signers, err := c.signers()
	if err != nil {
		return nil, err
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w for %s: set storage.key_file, storage.password or SSH_AUTH_SOCK", ErrNoSSHAuth, c.Addr())
	}
	return methods, nil
}

// signers loads the configured key file, which must be usable, or else any
// default key that is.
func (c SSHConfig) signers() ([]ssh.Signer, error) {
	if c.KeyFile != "" {
		s, err := loadSigner(expandHome(c.KeyFile))
		if err != nil {
			return nil, err
		}
		return []ssh.Signer{s}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}
	var out []ssh.Signer
	for _, name := range defaultKeyFiles {
		if s, err := loadSigner(filepath.Join(home, ".ssh", name)); err == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	s, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	return s, nil
}

func (c SSHConfig) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.InsecureIgnoreHostKey {
		slog.Warn("ssh host key verification disabled", "host", c.Addr())
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // opted into via storage.insecure_ignore_host_key
	}

	path := expandHome(c.KnownHosts)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w (set storage.known_hosts, or storage.insecure_ignore_host_key to skip verification)", path, err)
	}
	return cb, nil
}

func expandHome(p string) string {
	rest, ok := strings.CutPrefix(p, "~/")
	if !ok {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, rest)
}
