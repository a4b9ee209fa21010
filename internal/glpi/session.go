package glpi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/ticketdigest/internal/types"
)

// SessionAPI is the part of the GLPI API the session manager drives.
type SessionAPI interface {
	InitSession(ctx context.Context) (string, error)
	Probe(ctx context.Context, token string) error
	KillSession(ctx context.Context, token string) error
}

// SessionManager owns the single GLPI session shared by all pipeline runs.
// Validation, renewal and termination are serialized so that a run never
// observes a half-replaced session.
type SessionManager struct {
	api SessionAPI
	now func() time.Time

	mu       sync.Mutex
	current  *types.Session
	renewals int
}

// NewSessionManager creates a manager with no session. The first call to
// EnsureValidSession authenticates.
func NewSessionManager(api SessionAPI) *SessionManager {
	return &SessionManager{api: api, now: time.Now}
}

// EnsureValidSession returns a session that answered a probe just now,
// acquiring a fresh one when there is none or the probe fails.
func (m *SessionManager) EnsureValidSession(ctx context.Context) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		err := m.api.Probe(ctx, m.current.Token)
		if err == nil {
			m.current.Validated = true
			return *m.current, nil
		}
		slog.Warn("glpi session probe failed, re-authenticating", "error", err)
		m.discardLocked(ctx)
	}
	return m.acquireLocked(ctx)
}

// Renew replaces stale with a fresh session. If another caller already
// replaced it, the current session is returned as is.
func (m *SessionManager) Renew(ctx context.Context, stale types.Session) (types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Token != stale.Token {
		return *m.current, nil
	}
	m.discardLocked(ctx)
	s, err := m.acquireLocked(ctx)
	if err != nil {
		return types.Session{}, err
	}
	m.renewals++
	slog.Info("glpi session renewed", "renewals", m.renewals)
	return s, nil
}

// Terminate closes the current session. Calling it without a session is a
// no-op.
func (m *SessionManager) Terminate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	token := m.current.Token
	m.current = nil
	if err := m.api.KillSession(ctx, token); err != nil {
		return fmt.Errorf("kill session: %w", err)
	}
	return nil
}

// Renewals reports how many times Renew acquired a new session.
func (m *SessionManager) Renewals() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renewals
}

func (m *SessionManager) acquireLocked(ctx context.Context) (types.Session, error) {
	token, err := m.api.InitSession(ctx)
	if err != nil {
		return types.Session{}, fmt.Errorf("init session: %w", err)
	}
	m.current = &types.Session{Token: token, CreatedAt: m.now(), Validated: true}
	return *m.current, nil
}

// discardLocked drops the current session, killing it on a best-effort basis.
func (m *SessionManager) discardLocked(ctx context.Context) {
	if m.current == nil {
		return
	}
	if err := m.api.KillSession(ctx, m.current.Token); err != nil {
		slog.Debug("kill stale glpi session", "error", err)
	}
	m.current = nil
}
