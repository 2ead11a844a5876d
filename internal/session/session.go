// Package session owns the OAuth2 bearer token used for CmControl's MQTT+REST API.
//
// Login exchanges Basic credentials for a bearer token over the
// "rest/oauth2/login" endpoint. The token is cached with its expiry, renewed
// when it enters the renewal margin, and transparently re-acquired once when
// an API call comes back unauthorized.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// State is the login state of a Manager.
type State int

// Login states.
const (
	LoggedOut State = iota
	LoggingIn
	LoggedIn
	// TokenExpiring means a token is held but it is inside the renewal margin.
	TokenExpiring
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case LoggingIn:
		return "logging_in"
	case LoggedIn:
		return "logged_in"
	case TokenExpiring:
		return "token_expiring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultRenewMargin renews tokens ten minutes before they expire.
const DefaultRenewMargin = 10 * time.Minute

// loginKey is the singleflight key; there is only one token per manager.
const loginKey = "login"

// noTokenLog is the log of the synthetic logout response when no token is held.
const noTokenLog = "no token"

// Requester sends one request and waits for its response.
// *correlator.Correlator satisfies it.
type Requester interface {
	Request(ctx context.Context, endpoint string, payload any, timeout time.Duration) (protocol.Response, error)
}

// Credentials are the API user and password configured in CmControl.
type Credentials struct {
	Username string
	Password string
}

// Observer is told about login outcomes (for metrics).
type Observer interface {
	LoginCompleted(err error, elapsed time.Duration)
}

// LogRules classifies the log of a successful response.
// apontamento.Rules satisfies it.
type LogRules interface {
	IsBusinessError(log string) bool
}

// Logger is the logging interface used by the manager.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Manager holds the bearer token and performs login/logout.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Concurrent logins share a single exchange.
type Manager struct {
	req         Requester
	creds       Credentials
	renewMargin time.Duration
	timeout     time.Duration
	now         func() time.Time

	mu        sync.RWMutex
	token     *Token
	loggingIn bool

	group singleflight.Group

	hookMu   sync.RWMutex
	observer Observer
	logger   Logger
	rules    LogRules
}

// New creates a Manager. timeout bounds each login/logout exchange; zero
// leaves it to the Requester's default.
func New(req Requester, creds Credentials, renewMargin, timeout time.Duration) *Manager {
	if renewMargin < 0 {
		renewMargin = DefaultRenewMargin
	}
	return &Manager{
		req:         req,
		creds:       creds,
		renewMargin: renewMargin,
		timeout:     timeout,
		now:         time.Now,
	}
}

// SetObserver sets the login observer.
func (m *Manager) SetObserver(o Observer) {
	m.hookMu.Lock()
	m.observer = o
	m.hookMu.Unlock()
}

// SetLogRules makes login reject a 200 answer whose log is a business
// error. Without rules only the status and access_token are checked.
func (m *Manager) SetLogRules(r LogRules) {
	m.hookMu.Lock()
	m.rules = r
	m.hookMu.Unlock()
}

// SetLogger sets the logger. If not set, the manager is silent.
func (m *Manager) SetLogger(l Logger) {
	m.hookMu.Lock()
	m.logger = l
	m.hookMu.Unlock()
}

// HasCredentials reports whether API credentials were configured.
func (m *Manager) HasCredentials() bool {
	return m.creds.Username != "" && m.creds.Password != ""
}

// State returns the current login state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.loggingIn:
		return LoggingIn
	case m.token == nil:
		return LoggedOut
	case m.token.ValidAt(m.now(), m.renewMargin):
		return LoggedIn
	default:
		return TokenExpiring
	}
}

// IsTokenValid reports whether a token is held and is outside the renewal margin.
// It has no side effects.
func (m *Manager) IsTokenValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != nil && m.token.ValidAt(m.now(), m.renewMargin)
}

// Token returns the bearer value, or ErrLogin when no token is held.
func (m *Manager) Token() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return "", fmt.Errorf("%w: no token, call Login first", protocol.ErrLogin)
	}
	return m.token.Value, nil
}

// Current returns a copy of the held token.
func (m *Manager) Current() (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return Token{}, false
	}
	return *m.token, true
}

// Invalidate drops the held token.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

// Login exchanges the Basic credentials for a bearer token. Concurrent calls
// share one exchange; each caller still honours its own ctx.
//
// Failures leave the manager logged out and match protocol.ErrLogin. When the
// server answered, the error is a *protocol.ResponseError carrying status and log.
func (m *Manager) Login(ctx context.Context) (Token, error) {
	if !m.HasCredentials() {
		return Token{}, fmt.Errorf("%w: %w: api username/password not configured", protocol.ErrLogin, protocol.ErrConfig)
	}

	ch := m.group.DoChan(loginKey, func() (any, error) {
		// Detached so one impatient caller does not fail the others.
		return m.login(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, fmt.Errorf("%w: %w", protocol.ErrLogin, ctx.Err())
	}
}

func (m *Manager) login(ctx context.Context) (Token, error) {
	m.mu.Lock()
	m.loggingIn = true
	m.mu.Unlock()

	start := m.now()
	tok, err := m.exchange(ctx)

	m.mu.Lock()
	m.loggingIn = false
	if err != nil {
		m.token = nil
	} else {
		m.token = &tok
	}
	m.mu.Unlock()

	m.notifyLogin(err, m.now().Sub(start))
	if err != nil {
		m.logWarn("oauth2 login failed", "user", m.creds.Username, "error", err)
		return Token{}, err
	}
	m.logInfo("oauth2 login succeeded", "user", m.creds.Username, "expires_at", tok.ExpiresAt)
	return tok, nil
}

// exchange sends the login request and interprets the answer.
func (m *Manager) exchange(ctx context.Context) (Token, error) {
	payload := protocol.RESTEnvelope{
		Request: protocol.RESTRequest{
			Headers: map[string]string{
				protocol.HeaderAuthorization: protocol.BasicAuthorization(m.creds.Username, m.creds.Password),
			},
			Type: protocol.MethodGet,
		},
	}

	resp, err := m.req.Request(ctx, protocol.EndpointLogin, payload, m.timeout)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", protocol.ErrLogin, err)
	}
	if !resp.StatusOK() {
		return Token{}, protocol.NewResponseError(protocol.ErrLogin, protocol.EndpointLogin, resp)
	}
	m.hookMu.RLock()
	rules := m.rules
	m.hookMu.RUnlock()
	if rules != nil && rules.IsBusinessError(resp.Log()) {
		return Token{}, protocol.NewResponseError(protocol.ErrLogin, protocol.EndpointLogin, resp)
	}

	value := resp.String("access_token")
	if value == "" {
		rerr := protocol.NewResponseError(protocol.ErrLogin, protocol.EndpointLogin, resp)
		if rerr.Log == "" {
			rerr.Log = "response has no access_token"
		}
		return Token{}, rerr
	}

	issued := m.now()
	expiresIn, _ := resp.Int("expires_in")
	return Token{
		Value:     value,
		IssuedAt:  issued,
		ExpiresAt: expiryFor(value, expiresIn, issued),
	}, nil
}

// EnsureLogin logs in unless a valid token is already held.
func (m *Manager) EnsureLogin(ctx context.Context) error {
	if m.IsTokenValid() {
		return nil
	}
	_, err := m.Login(ctx)
	return err
}

// Logout revokes the token on the server. The local token is dropped
// whatever the outcome. Without a token it answers {"status":"200","log":"no token"}.
func (m *Manager) Logout(ctx context.Context) (protocol.Response, error) {
	m.mu.Lock()
	tok := m.token
	m.token = nil
	m.mu.Unlock()

	if tok == nil {
		return protocol.Response{"status": "200", "log": noTokenLog}, nil
	}

	payload := protocol.RESTEnvelope{
		Request: protocol.RESTRequest{
			Headers: map[string]string{
				protocol.HeaderAuthorization: protocol.BearerAuthorization(tok.Value),
			},
			Type: protocol.MethodGet,
		},
	}

	resp, err := m.req.Request(ctx, protocol.EndpointLogout, payload, m.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: logout: %w", protocol.ErrAPI, err)
	}
	if !resp.StatusOK() {
		return resp, protocol.NewResponseError(protocol.ErrAPI, protocol.EndpointLogout, resp)
	}
	m.logInfo("oauth2 logout", "user", m.creds.Username)
	return resp, nil
}

// Do performs an authenticated request. build receives the bearer value and
// returns the payload. When the response signals an authorization failure
// the token is dropped, a new login is made and the request is retried once.
// A retry that is rejected too drops the new token as well.
// The response is returned as received; classifying it is up to the caller.
func (m *Manager) Do(ctx context.Context, endpoint string, build func(bearer string) any, timeout time.Duration) (protocol.Response, error) {
	if err := m.EnsureLogin(ctx); err != nil {
		return nil, err
	}
	bearer, err := m.Token()
	if err != nil {
		return nil, err
	}

	resp, err := m.req.Request(ctx, endpoint, build(bearer), timeout)
	if err != nil || !IsAuthFailure(resp) {
		return resp, err
	}

	m.logWarn("token rejected, logging in again", "endpoint", endpoint, "status", resp.Status())
	m.invalidateIf(bearer)
	tok, err := m.Login(ctx)
	if err != nil {
		return nil, err
	}
	resp, err = m.req.Request(ctx, endpoint, build(tok.Value), timeout)
	if err == nil && IsAuthFailure(resp) {
		m.logWarn("token rejected after a fresh login", "endpoint", endpoint, "status", resp.Status())
		m.invalidateIf(tok.Value)
	}
	return resp, err
}

// invalidateIf drops the token only if it is still the one that was rejected,
// so a token fetched concurrently by another caller survives.
func (m *Manager) invalidateIf(bearer string) {
	m.mu.Lock()
	if m.token != nil && m.token.Value == bearer {
		m.token = nil
	}
	m.mu.Unlock()
}

// authFailureMarkers are log fragments that mean the bearer was not accepted.
var authFailureMarkers = []string{
	"unauthorized",
	"unauthorised",
	"não autorizado",
	"nao autorizado",
	"invalid_token",
	"invalid token",
	"token inválido",
	"token invalido",
	"token expirado",
	"token expired",
}

// IsAuthFailure reports whether resp says the bearer token was rejected:
// status 401/403, or a log naming an unauthorized or invalid token.
func IsAuthFailure(resp protocol.Response) bool {
	if resp == nil {
		return false
	}
	status := resp.Status()
	if strings.HasPrefix(status, "401") || strings.HasPrefix(status, "403") {
		return true
	}
	log := strings.ToLower(resp.Log())
	for _, marker := range authFailureMarkers {
		if strings.Contains(log, marker) {
			return true
		}
	}
	return false
}

// IsLoginError reports whether err came from a failed login.
func IsLoginError(err error) bool {
	return errors.Is(err, protocol.ErrLogin)
}

func (m *Manager) notifyLogin(err error, elapsed time.Duration) {
	m.hookMu.RLock()
	o := m.observer
	m.hookMu.RUnlock()
	if o != nil {
		o.LoginCompleted(err, elapsed)
	}
}

func (m *Manager) logInfo(msg string, args ...any) {
	m.hookMu.RLock()
	l := m.logger
	m.hookMu.RUnlock()
	if l != nil {
		l.Info(msg, args...)
	}
}

func (m *Manager) logWarn(msg string, args ...any) {
	m.hookMu.RLock()
	l := m.logger
	m.hookMu.RUnlock()
	if l != nil {
		l.Warn(msg, args...)
	}
}
