// Package remote implements the workspace backend that operates on a remote
// machine over SSH. File operations are carried out with standard shell
// utilities on the remote side, so the only remote requirement is a POSIX
// shell and coreutils.
package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/crypto/ssh"

	"github.com/aspects-ai/agent-backend/engine/backend"
	"github.com/aspects-ai/agent-backend/engine/oplog"
	"github.com/aspects-ai/agent-backend/engine/pathres"
	"github.com/aspects-ai/agent-backend/engine/safety"
)

// requiredUtilities must exist on the remote host for file operations to
// work. Probed once after connecting.
var requiredUtilities = []string{"cat", "ls", "mkdir", "touch", "stat", "mv", "rm", "test"}

// Reconnection tunes the automatic reconnect loop.
type Reconnection struct {
	// MaxRetries bounds reconnect attempts per disconnect. Zero disables
	// reconnection.
	MaxRetries uint64
	// InitialDelay seeds the exponential backoff.
	InitialDelay time.Duration
	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration
}

// Config holds construction options for the remote backend.
type Config struct {
	// RootDir is the workspace boundary on the remote host. Required.
	RootDir string

	// Host is the SSH server address. Required.
	Host string
	// Port defaults to 22.
	Port int
	// User is the SSH login name. Required.
	User string
	// AuthToken is the password or token presented to the server.
	AuthToken string

	// DialTimeout bounds the TCP and handshake phase. Defaults to 10s.
	DialTimeout time.Duration
	// KeepaliveInterval spaces keepalive probes. Non-positive disables
	// them.
	KeepaliveInterval time.Duration
	// Reconnection tunes the reconnect loop.
	Reconnection Reconnection

	// AllowDangerous disables command-danger classification.
	AllowDangerous bool
	// OnDangerous, when set, swallows a blocked command instead of
	// returning an error.
	OnDangerous func(command string)
	// Safety carries allowed-pattern overrides for the classifier.
	Safety *safety.Config

	// MaxOutputBytes caps captured exec output. Non-positive means
	// unlimited.
	MaxOutputBytes int64
	// OpTimeout bounds each operation. Non-positive means no limit.
	OpTimeout time.Duration

	// OpsLogger receives one entry per completed operation.
	OpsLogger oplog.Logger
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("remote configuration is required")
	}
	if c.RootDir == "" {
		return fmt.Errorf("root directory is required")
	}
	if !strings.HasPrefix(c.RootDir, "/") {
		return fmt.Errorf("root directory must be absolute: %q", c.RootDir)
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	return nil
}

// Remote is the SSH-backed workspace backend.
type Remote struct {
	cfg      *Config
	rootDir  string
	statuses *backend.StatusManager

	connMu sync.Mutex
	client *ssh.Client

	mu         sync.Mutex
	scopes     map[backend.Backend]struct{}
	closeables map[io.Closer]struct{}

	stopKeepalive chan struct{}
	keepaliveOnce sync.Once
}

var _ backend.Backend = (*Remote)(nil)

// New dials the remote host, verifies the required shell utilities, and
// creates the workspace root.
func New(ctx context.Context, cfg *Config) (*Remote, error) {
	if err := cfg.validate(); err != nil {
		return nil, backend.ErrInvalidConfiguration(err)
	}
	r := &Remote{
		cfg:           cfg,
		rootDir:       pathSlashClean(cfg.RootDir),
		statuses:      backend.NewStatusManager(backend.StatusConnecting),
		scopes:        make(map[backend.Backend]struct{}),
		closeables:    make(map[io.Closer]struct{}),
		stopKeepalive: make(chan struct{}),
	}
	client, err := r.dial(ctx)
	if err != nil {
		return nil, backend.ErrBackend("connect", err)
	}
	r.client = client
	if err := r.verifyUtilities(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if _, _, _, runErr := r.runShell(ctx, "mkdir -p "+shellQuote(r.rootDir), nil); runErr != nil {
		_ = client.Close()
		return nil, backend.ErrBackend("connect", runErr)
	}
	r.statuses.Set(backend.StatusConnected, nil)
	if cfg.KeepaliveInterval > 0 {
		go r.keepaliveLoop()
	}
	return r, nil
}

func (r *Remote) dial(ctx context.Context) (*ssh.Client, error) {
	timeout := r.cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	port := r.cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(r.cfg.Host, fmt.Sprintf("%d", port))
	clientCfg := &ssh.ClientConfig{
		User:            r.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(r.cfg.AuthToken)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (r *Remote) verifyUtilities(ctx context.Context) error {
	probe := "command -v " + strings.Join(requiredUtilities, " ")
	_, _, exit, err := r.runShell(ctx, probe, nil)
	if err != nil {
		return backend.ErrBackend("connect", err)
	}
	if exit != 0 {
		return backend.ErrMissingUtilities(strings.Join(requiredUtilities, ", "))
	}
	return nil
}

// reconnect re-establishes the SSH connection with exponential backoff. It
// holds the connection mutex for the whole attempt so concurrent operations
// wait rather than race on a half-open client.
func (r *Remote) reconnect(ctx context.Context) error {
	rc := r.cfg.Reconnection
	if rc.MaxRetries == 0 {
		return backend.ErrConnectionClosed("reconnect")
	}
	r.statuses.Set(backend.StatusReconnecting, nil)

	initial := rc.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	backoff := retry.NewExponential(initial)
	if rc.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(rc.MaxDelay, backoff)
	}
	backoff = retry.WithMaxRetries(rc.MaxRetries, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		client, dialErr := r.dial(ctx)
		if dialErr != nil {
			return retry.RetryableError(dialErr)
		}
		r.connMu.Lock()
		if r.client != nil {
			_ = r.client.Close()
		}
		r.client = client
		r.connMu.Unlock()
		return nil
	})
	if err != nil {
		r.statuses.Set(backend.StatusDisconnected, err)
		return backend.ErrConnectionClosed("reconnect")
	}
	r.statuses.Set(backend.StatusConnected, nil)
	return nil
}

func (r *Remote) keepaliveLoop() {
	ticker := time.NewTicker(r.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopKeepalive:
			return
		case <-ticker.C:
			r.connMu.Lock()
			client := r.client
			r.connMu.Unlock()
			if client == nil {
				continue
			}
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				r.statuses.Set(backend.StatusDisconnected, err)
				_ = r.reconnect(context.Background())
			}
		}
	}
}

func (r *Remote) Type() backend.Type     { return backend.TypeRemote }
func (r *Remote) RootDir() string        { return r.rootDir }
func (r *Remote) Status() backend.Status { return r.statuses.Status() }

func (r *Remote) OnStatusChange(cb backend.StatusCallback) backend.Unsubscribe {
	return r.statuses.Subscribe(cb)
}

func (r *Remote) checkLive(operation string) error {
	switch r.statuses.Status() {
	case backend.StatusDestroyed:
		return backend.ErrDestroyed(operation)
	case backend.StatusDisconnected:
		return backend.ErrConnectionClosed(operation)
	}
	return nil
}

func (r *Remote) resolvePath(p string) (string, error) {
	if rel, ok := pathres.RelativeWithinRoot(r.rootDir, p); ok {
		p = rel
	}
	resolved, err := pathres.Resolve(r.rootDir, p)
	if err != nil {
		return "", backend.ErrPathEscape(p, err)
	}
	return resolved, nil
}

func (r *Remote) Scope(p string, cfg *backend.ScopeConfig) (backend.Backend, error) {
	if err := r.checkLive("scope"); err != nil {
		return nil, err
	}
	scoped, err := backend.NewScoped(r, p, cfg)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.scopes[scoped] = struct{}{}
	r.mu.Unlock()
	return scoped, nil
}

func (r *Remote) ActiveScopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.scopes))
	for scope := range r.scopes {
		if s, ok := scope.(*backend.Scoped); ok {
			paths = append(paths, s.ScopePath())
		}
	}
	sort.Strings(paths)
	return paths
}

func (r *Remote) OnChildDestroyed(child backend.Backend) {
	r.mu.Lock()
	delete(r.scopes, child)
	r.mu.Unlock()
}

func (r *Remote) TrackCloseable(c io.Closer) {
	r.mu.Lock()
	r.closeables[c] = struct{}{}
	r.mu.Unlock()
}

func (r *Remote) UntrackCloseable(c io.Closer) {
	r.mu.Lock()
	delete(r.closeables, c)
	r.mu.Unlock()
}

// Destroy stops the keepalive loop, releases tracked resources, and closes
// the SSH connection.
func (r *Remote) Destroy(_ context.Context) error {
	r.statuses.Set(backend.StatusDestroyed, nil)
	r.keepaliveOnce.Do(func() { close(r.stopKeepalive) })

	r.mu.Lock()
	closeables := make([]io.Closer, 0, len(r.closeables))
	for c := range r.closeables {
		closeables = append(closeables, c)
	}
	r.closeables = make(map[io.Closer]struct{})
	r.scopes = make(map[backend.Backend]struct{})
	r.mu.Unlock()

	for _, c := range closeables {
		_ = c.Close()
	}

	r.connMu.Lock()
	if r.client != nil {
		_ = r.client.Close()
		r.client = nil
	}
	r.connMu.Unlock()
	r.statuses.Clear()
	return nil
}

func (r *Remote) emit(op oplog.Operation, command string, success bool, duration time.Duration, err error) {
	entry := oplog.NewEntry(op, command)
	entry.WorkspacePath = r.rootDir
	entry.Success = success
	entry.Duration = duration
	if err != nil {
		entry.Error = err.Error()
	}
	oplog.Emit(r.cfg.OpsLogger, entry)
}
