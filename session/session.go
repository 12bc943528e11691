// Package session binds a saved project to a Live or Demo backend and runs
// bulk operations over a selection of pull requests.
package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	ghcache "github.com/dgduncan/go-gh-cache"
	"github.com/dgduncan/go-gh-cache/demo"
	"github.com/dgduncan/go-gh-cache/github"
	"github.com/dgduncan/go-gh-cache/profiles"
)

// ErrIncompleteCredentials is returned when a live project lacks a token or
// repository.
var ErrIncompleteCredentials = errors.New("session: token, owner and repo are required")

// Backend is what a session reads from and writes to. *github.Client and
// *demo.Backend implement it.
type Backend interface {
	ValidateAuth(ctx context.Context) (bool, error)
	CurrentUser(ctx context.Context) (*github.User, error)
	ListOpenPRs(ctx context.Context) ([]github.PullRequest, error)
	SearchUserPRs(ctx context.Context, login, term string, page, perPage int) (*github.PRPage, error)
	AllUserPRs(ctx context.Context, login, term string) ([]github.PullRequest, error)
	ListBranches(ctx context.Context) ([]string, error)
	ListLabels(ctx context.Context) ([]github.Label, error)
	UpdatePRBase(ctx context.Context, number int, base string) error
	AddLabels(ctx context.Context, number int, labels []string) error
	RemoveLabels(ctx context.Context, number int, labels []string) error
	ReplaceLabels(ctx context.Context, number int, labels []string) error
}

var (
	_ Backend = (*github.Client)(nil)
	_ Backend = (*demo.Backend)(nil)
)

// Mode tells live and demo sessions apart. It comes from the project, never
// from the identity of the user.
type Mode int

const (
	Live Mode = iota
	Demo
)

func (m Mode) String() string {
	switch m {
	case Live:
		return "live"
	case Demo:
		return "demo"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeOf returns the mode a project opens in.
func ModeOf(p profiles.Project) Mode {
	if p.DemoMode {
		return Demo
	}
	return Live
}

// Session is an opened project.
type Session struct {
	Mode    Mode
	Project profiles.Project
	User    *github.User
	Backend Backend
}

// Config holds Manager options.
type Config struct {
	// DemoSeed seeds the synthetic data of demo sessions.
	DemoSeed uint64
}

// Manager opens sessions over a shared RequestCache. Cached responses are
// keyed by URL only, so the cache and quota snapshot are cleared whenever the
// credential, repository or mode changes.
type Manager struct {
	rc     *ghcache.RequestCache
	logger *slog.Logger
	now    func() time.Time
	c      Config

	mu sync.Mutex
	// fingerprint is that of the last attempted Open, successful or not, so
	// quota state learned with a rejected token is dropped on the next switch.
	fingerprint [sha256.Size]byte
	attempted   bool
	current     *Session
}

// NewManager creates a Manager. If 'now' is nil, time.Now will be used. If
// 'logger' is nil, a no-op logger writing to io.Discard will be used.
func NewManager(rc *ghcache.RequestCache, config *Config, now func() time.Time, logger *slog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Manager{rc: rc, logger: logger, now: now}
	if config != nil {
		m.c = *config
	}
	return m
}

// Open switches to project p and returns the new session. The current user is
// loaded as part of opening, so a rejected token fails here.
func (m *Manager) Open(ctx context.Context, p profiles.Project) (*Session, error) {
	mode := ModeOf(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	fp := fingerprint(mode, p)
	if m.attempted && fp != m.fingerprint {
		m.logger.InfoContext(ctx, "context changed, clearing cache",
			"project", p.Name, "mode", mode.String())
		if err := m.rc.Clear(ctx); err != nil {
			return nil, fmt.Errorf("session: clear cache: %w", err)
		}
	}
	m.fingerprint = fp
	m.attempted = true

	var backend Backend
	switch mode {
	case Demo:
		backend = demo.New(m.c.DemoSeed, m.now)
	default:
		if p.Token == "" || p.Owner == "" || p.Repo == "" {
			return nil, ErrIncompleteCredentials
		}
		backend = github.New(m.rc, github.Repository{
			Owner:         p.Owner,
			Repo:          p.Repo,
			EnterpriseURL: p.EnterpriseURL,
		}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: p.Token}), m.logger.With("project", p.Name))
	}

	user, err := backend.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: load user: %w", err)
	}

	s := &Session{Mode: mode, Project: p, User: user, Backend: backend}
	m.current = s

	m.logger.DebugContext(ctx, "session opened", "project", p.Name, "mode", mode.String(), "user", user.Login)
	return s, nil
}

// Current returns the open session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close forgets the current session and clears the cache.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = nil
	m.fingerprint = [sha256.Size]byte{}
	m.attempted = false
	return m.rc.Clear(ctx)
}

func fingerprint(mode Mode, p profiles.Project) [sha256.Size]byte {
	return sha256.Sum256(fmt.Appendf(nil, "%d\x00%s\x00%s\x00%s\x00%s",
		mode, p.Token, p.Owner, p.Repo, p.EnterpriseURL))
}
