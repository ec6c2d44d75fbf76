// Package account manages authentication and the vehicle registry for one owner account.
//
// An Account owns the session: every request that needs one flows through Call, which fills in
// the session token, repairs expired sessions once, and decodes vendor error envelopes. Sessions
// live in memory only; a fresh Account starts logged out.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dahlb/kia-hyundai-go/internal/log"
	"github.com/dahlb/kia-hyundai-go/pkg/cache"
	"github.com/dahlb/kia-hyundai-go/pkg/connector"
	"github.com/dahlb/kia-hyundai-go/pkg/connector/rest"
	"github.com/dahlb/kia-hyundai-go/pkg/dispatcher"
	"github.com/dahlb/kia-hyundai-go/pkg/profile"
	"github.com/dahlb/kia-hyundai-go/pkg/protocol"
)

// DefaultExpiryMargin renews sessions that close to expiry, so a session never dies mid-poll.
const DefaultExpiryMargin = time.Minute

// Credentials identifies one owner account. PIN is required by the Canada backends and by US
// Hyundai, which sends it as a header on every call.
type Credentials struct {
	Username string
	Password string
	PIN      string
}

// Session is the cached login state. Replaced wholesale on every refresh.
type Session struct {
	Token        string
	RefreshToken string
	AccountID    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// ValidFor reports whether the session is still usable margin from now.
func (s *Session) ValidFor(margin time.Duration) bool {
	return s != nil && time.Now().Add(margin).Before(s.ExpiresAt)
}

// Account is the entry point of the library: one authenticated owner account in one region.
type Account struct {
	prof      *profile.Profile
	transport connector.Transport
	creds     Credentials
	margin    time.Duration

	flight   singleflight.Group
	sessions chan *Session // 1-buffered; owns the session slot
	pinToken chan *profile.PinTokenResult

	pollTries uint
	dispatch  *dispatcher.Dispatcher
	statuses  *cache.StatusCache
	registry  *registry
}

type Option func(*Account)

// WithTransport substitutes the HTTP transport, e.g. for tests.
func WithTransport(t connector.Transport) Option {
	return func(a *Account) { a.transport = t }
}

// WithExpiryMargin overrides how close to expiry a session is renewed.
func WithExpiryMargin(margin time.Duration) Option {
	return func(a *Account) { a.margin = margin }
}

// WithVehicleListTTL overrides how long the cached vehicle list is trusted.
func WithVehicleListTTL(ttl time.Duration) Option {
	return func(a *Account) { a.registry.ttl = ttl }
}

// WithPollTries overrides the dispatcher's per-poll retry bound.
func WithPollTries(tries uint) Option {
	return func(a *Account) { a.pollTries = tries }
}

// New creates an Account for the given region variant. No network traffic happens until the
// first call that needs a session.
func New(variant profile.Variant, creds Credentials, opts ...Option) (*Account, error) {
	var prof *profile.Profile
	switch variant {
	case profile.VariantUSKia:
		prof = profile.USKia()
	case profile.VariantUSHyundai:
		prof = profile.USHyundai()
	case profile.VariantCAKia:
		prof = profile.CAKia()
	case profile.VariantCAHyundai:
		prof = profile.CAHyundai()
	default:
		return nil, fmt.Errorf("unknown region variant %q", variant)
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, &protocol.AuthError{Reason: "username and password required", Retryable: false}
	}
	if prof.RequiresPin() && creds.PIN == "" {
		return nil, &protocol.AuthError{Reason: "pin required for this region", Retryable: false}
	}

	a := &Account{
		prof:      prof,
		transport: rest.NewConnection(""),
		creds:     creds,
		margin:    DefaultExpiryMargin,
		sessions:  make(chan *Session, 1),
		pinToken:  make(chan *profile.PinTokenResult, 1),
		pollTries: dispatcher.DefaultPollTries,
		statuses:  cache.New(),
	}
	a.registry = newRegistry(a)
	a.sessions <- nil
	a.pinToken <- nil
	for _, opt := range opts {
		opt(a)
	}
	a.dispatch = dispatcher.New(a, prof, dispatcher.WithPollTries(a.pollTries))
	return a, nil
}

// Profile exposes the region capability table.
func (a *Account) Profile() *profile.Profile { return a.prof }

// Dispatcher exposes the remote-command tracker.
func (a *Account) Dispatcher() *dispatcher.Dispatcher { return a.dispatch }

// Cache exposes the status snapshot cache.
func (a *Account) Cache() *cache.StatusCache { return a.statuses }

func (a *Account) currentSession() *Session {
	s := <-a.sessions
	a.sessions <- s
	return s
}

func (a *Account) storeSession(s *Session) {
	<-a.sessions
	a.sessions <- s
}

// EnsureSession returns a session valid for at least the configured margin, logging in if
// needed. Concurrent callers share a single in-flight login.
func (a *Account) EnsureSession(ctx context.Context) (*Session, error) {
	if s := a.currentSession(); s.ValidFor(a.margin) {
		return s, nil
	}
	result, err, _ := a.flight.Do("login", func() (any, error) {
		if s := a.currentSession(); s.ValidFor(a.margin) {
			return s, nil
		}
		return a.Login(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

// Login performs an unconditional login and replaces the cached session.
func (a *Account) Login(ctx context.Context) (*Session, error) {
	rc := a.baseContext()
	resp, err := a.send(ctx, profile.OpLogin, rc, nil)
	if err != nil {
		return nil, loginError(err)
	}
	result, err := a.prof.DecodeLogin(resp)
	if err != nil {
		return nil, err
	}
	session := &Session{
		Token:        result.AccessToken,
		RefreshToken: result.RefreshToken,
		AccountID:    a.creds.Username,
		IssuedAt:     time.Now(),
		ExpiresAt:    result.ExpiresAt,
	}
	a.storeSession(session)
	log.Info("Logged in as %s, session valid until %s", a.creds.Username, session.ExpiresAt.Format(time.RFC3339))
	return session, nil
}

// Logout drops the session, pin token, and cached vehicle list.
func (a *Account) Logout() {
	a.storeSession(nil)
	<-a.pinToken
	a.pinToken <- nil
	a.registry.drop()
	log.Info("Logged out %s", a.creds.Username)
}

func (a *Account) invalidateSession() {
	a.storeSession(nil)
}

// loginError maps transport-level login failures onto the auth taxonomy.
func loginError(err error) error {
	var httpErr *rest.HttpError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Code == 401 || httpErr.Code == 403:
			return &protocol.AuthError{Reason: "credentials rejected", Retryable: false}
		case httpErr.Temporary():
			return &protocol.AuthError{Reason: httpErr.Error(), Retryable: true}
		}
	}
	var authErr *protocol.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	if protocol.Temporary(err) {
		return &protocol.AuthError{Reason: err.Error(), Retryable: true}
	}
	return err
}

// PinToken verifies the account PIN against the CA backend and caches the resulting pAuth token
// until its expiry. Other regions do not use pin tokens.
func (a *Account) PinToken(ctx context.Context) (string, error) {
	if !a.prof.Supports(profile.OpPinToken) {
		return "", &protocol.UnsupportedOperationError{Operation: string(profile.OpPinToken), Variant: string(a.prof.Variant())}
	}
	cached := <-a.pinToken
	a.pinToken <- cached
	if cached != nil && time.Now().Before(cached.ExpiresAt) {
		return cached.Token, nil
	}

	session, err := a.EnsureSession(ctx)
	if err != nil {
		return "", err
	}
	rc := a.baseContext()
	rc.SessionToken = session.Token
	resp, err := a.send(ctx, profile.OpPinToken, rc, nil)
	if err != nil {
		return "", err
	}
	result, err := a.prof.DecodePinToken(resp.Body)
	if err != nil {
		return "", err
	}
	<-a.pinToken
	a.pinToken <- result
	return result.Token, nil
}

func (a *Account) baseContext() profile.RequestContext {
	return profile.RequestContext{
		Username: a.creds.Username,
		Password: a.creds.Password,
		PIN:      a.creds.PIN,
	}
}

// needsPinToken reports whether op requires the CA pAuth token.
func needsPinToken(prof *profile.Profile, op profile.Operation) bool {
	if !prof.RequiresPin() {
		return false
	}
	return prof.IsCommand(op) || op == profile.OpLocation || op == profile.OpActionStatus
}

// Call sends one authenticated request. It fills the session and credential fields of rc, decodes
// the vendor error envelope, and on a retryable auth failure re-logs-in and resends once. It is
// the dispatcher's Caller and the vehicle facade's backend.
func (a *Account) Call(ctx context.Context, op profile.Operation, rc profile.RequestContext, params any) (*connector.Response, error) {
	resp, err := a.authedSend(ctx, op, rc, params)
	var authErr *protocol.AuthError
	if err != nil && errors.As(err, &authErr) && authErr.Retryable {
		log.Debug("Session rejected during %s, repairing and resending", op)
		a.invalidateSession()
		resp, err = a.authedSend(ctx, op, rc, params)
	}
	return resp, err
}

func (a *Account) authedSend(ctx context.Context, op profile.Operation, rc profile.RequestContext, params any) (*connector.Response, error) {
	session, err := a.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	rc.Username = a.creds.Username
	rc.Password = a.creds.Password
	rc.PIN = a.creds.PIN
	rc.SessionToken = session.Token
	rc.RefreshToken = session.RefreshToken
	if needsPinToken(a.prof, op) {
		token, err := a.PinToken(ctx)
		if err != nil {
			return nil, err
		}
		rc.PinToken = token
	}
	return a.send(ctx, op, rc, params)
}

// send shapes and performs one request without touching session state.
func (a *Account) send(ctx context.Context, op profile.Operation, rc profile.RequestContext, params any) (*connector.Response, error) {
	method, url, err := a.prof.URL(op, rc)
	if err != nil {
		return nil, err
	}
	body, err := a.prof.Body(op, rc, params)
	if err != nil {
		return nil, err
	}
	resp, err := a.transport.Do(ctx, method, url, a.prof.Headers(op, rc), body)
	if err != nil {
		if resp != nil {
			// Non-2xx with a body: the vendor envelope is more precise than the HTTP status.
			if vendorErr := a.prof.DecodeError(resp.Body); vendorErr != nil {
				return resp, vendorErr
			}
		}
		return resp, err
	}
	if vendorErr := a.prof.DecodeError(resp.Body); vendorErr != nil {
		return resp, vendorErr
	}
	return resp, nil
}
