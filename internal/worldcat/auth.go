package worldcat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/louhivuori/wcbatch/internal/credstore"
)

// apiScope is the OAuth2 scope requested on every exchange. Including
// refresh_token asks the authorization server to grant one.
const apiScope = "WorldCatMetadataAPI refresh_token"

// refreshExpiryMargin is the safety margin on refresh-token lifetime. A
// refresh token with less remaining life than this is not worth using, as
// the grant could expire mid-exchange, so a full credential exchange happens
// instead.
const refreshExpiryMargin = 25 * time.Second

// CredentialStore persists credential state between runs. Implemented by
// credstore.Store; tests substitute an in-memory recorder.
type CredentialStore interface {
	Load() (credstore.Credentials, error)
	Save(credstore.Credentials) error
}

// TokenManager owns the OAuth2 credential state for the Metadata API. It
// decides between a refresh-token grant and a full client-credentials
// exchange, and persists every credential update to the store immediately so
// subsequent runs can reuse the tokens.
//
// TokenManager is not safe for concurrent use; the batch driver issues
// requests strictly sequentially. Anyone introducing parallel batches must
// serialize Refresh: two concurrent refreshes against the same refresh
// token invalidate each other.
type TokenManager struct {
	creds      credstore.Credentials
	store      CredentialStore
	key        string
	secret     string
	tokenURL   string
	httpClient *http.Client
	logger     *slog.Logger

	// now overrides the clock in tests.
	now func() time.Time
	// fullExchange and refreshExchange are injectable for tests.
	fullExchange    func(ctx context.Context) (*oauth2.Token, error)
	refreshExchange func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// NewTokenManager loads persisted credentials from the store and returns a
// manager ready to authenticate requests. A store with no credentials yet is
// fine; the first expired-token signal (or Login) triggers a full exchange.
func NewTokenManager(
	key, secret, tokenURL string,
	store CredentialStore,
	httpClient *http.Client,
	logger *slog.Logger,
) (*TokenManager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	creds, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("worldcat: loading credentials: %w", err)
	}

	m := &TokenManager{
		creds:      creds,
		store:      store,
		key:        key,
		secret:     secret,
		tokenURL:   tokenURL,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}

	m.fullExchange = m.doFullExchange
	m.refreshExchange = m.doRefreshExchange

	return m, nil
}

// AccessToken returns the current access token. May be empty or stale; the
// service's expired-token signal drives renewal.
func (m *TokenManager) AccessToken() string {
	return m.creds.AccessToken
}

// TokenType returns the current token type, defaulting to "Bearer".
func (m *TokenManager) TokenType() string {
	if m.creds.TokenType == "" {
		return "Bearer"
	}

	return m.creds.TokenType
}

// Credentials returns a copy of the current credential state.
func (m *TokenManager) Credentials() credstore.Credentials {
	return m.creds
}

// ExecuteWithAuth runs requestFn with the current access token. If requestFn
// reports ErrAuthExpired, the manager renews the token once and re-invokes
// requestFn exactly once, returning its result without further retry. Any
// other failure propagates immediately.
func (m *TokenManager) ExecuteWithAuth(
	ctx context.Context,
	requestFn func(accessToken string) (*http.Response, error),
) (*http.Response, error) {
	resp, err := requestFn(m.creds.AccessToken)
	if err == nil || !errors.Is(err, ErrAuthExpired) {
		return resp, err
	}

	m.logger.Debug("access token expired, renewing",
		slog.Time("access_expiry", m.creds.AccessExpiresAt),
	)

	if refreshErr := m.Refresh(ctx); refreshErr != nil {
		return nil, refreshErr
	}

	return requestFn(m.creds.AccessToken)
}

// Refresh obtains a new access token. When a refresh token is present with
// more than refreshExpiryMargin of life remaining, it is exchanged via the
// refresh-token grant; otherwise a full client-credentials exchange obtains
// both a new access token and a new refresh token. Every updated field is
// persisted before Refresh returns.
func (m *TokenManager) Refresh(ctx context.Context) error {
	remaining := m.creds.RefreshExpires.Sub(m.now())

	var (
		tok *oauth2.Token
		err error
	)

	if m.creds.HasRefreshToken() && remaining > refreshExpiryMargin {
		m.logger.Debug("refreshing access token via refresh-token grant",
			slog.Duration("refresh_token_remaining", remaining),
		)

		tok, err = m.refreshExchange(ctx, m.creds.RefreshToken)
		if err != nil {
			return fmt.Errorf("worldcat: refresh-token grant: %w", err)
		}
	} else {
		m.logger.Debug("performing full client-credentials exchange",
			slog.Bool("have_refresh_token", m.creds.HasRefreshToken()),
			slog.Duration("refresh_token_remaining", remaining),
		)

		tok, err = m.fullExchange(ctx)
		if err != nil {
			return fmt.Errorf("worldcat: client-credentials exchange: %w", err)
		}
	}

	return m.adoptToken(tok)
}

// Login performs a full credential exchange unconditionally and persists the
// result. Used by the login command to bootstrap the credential store.
func (m *TokenManager) Login(ctx context.Context) error {
	tok, err := m.fullExchange(ctx)
	if err != nil {
		return fmt.Errorf("worldcat: client-credentials exchange: %w", err)
	}

	return m.adoptToken(tok)
}

// adoptToken copies the token fields into the credential state and persists
// it. The refresh token and its expiry are updated only when the response
// carries them (always on full exchange; server-dependent on refresh).
func (m *TokenManager) adoptToken(tok *oauth2.Token) error {
	m.creds.AccessToken = tok.AccessToken
	m.creds.TokenType = tok.TokenType
	m.creds.AccessExpiresAt = tok.Expiry.UTC()

	if rt, ok := tok.Extra("refresh_token").(string); ok && rt != "" {
		m.creds.RefreshToken = rt
	} else if tok.RefreshToken != "" {
		m.creds.RefreshToken = tok.RefreshToken
	}

	if raw, ok := tok.Extra("refresh_token_expires_at").(string); ok && raw != "" {
		expiry, err := credstore.ParseExpiry(raw)
		if err != nil {
			m.logger.Warn("unparseable refresh_token_expires_at in token response",
				slog.String("value", raw),
				slog.String("error", err.Error()),
			)
		} else {
			m.creds.RefreshExpires = expiry
		}
	}

	if err := m.store.Save(m.creds); err != nil {
		return fmt.Errorf("worldcat: persisting credentials: %w", err)
	}

	m.logger.Info("credentials updated",
		slog.Time("access_expiry", m.creds.AccessExpiresAt),
		slog.Bool("have_refresh_token", m.creds.HasRefreshToken()),
		slog.Time("refresh_expiry", m.creds.RefreshExpires),
	)

	return nil
}

// doFullExchange runs the OAuth2 client-credentials grant.
func (m *TokenManager) doFullExchange(ctx context.Context) (*oauth2.Token, error) {
	cfg := clientcredentials.Config{
		ClientID:     m.key,
		ClientSecret: m.secret,
		TokenURL:     m.tokenURL,
		Scopes:       []string{apiScope},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	return cfg.Token(m.oauthContext(ctx))
}

// doRefreshExchange runs the OAuth2 refresh-token grant.
func (m *TokenManager) doRefreshExchange(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	cfg := oauth2.Config{
		ClientID:     m.key,
		ClientSecret: m.secret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  m.tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	// A token with only a refresh token forces TokenSource to refresh now.
	seed := &oauth2.Token{RefreshToken: refreshToken}

	return cfg.TokenSource(m.oauthContext(ctx), seed).Token()
}

// oauthContext binds the manager's HTTP client (and its timeout) to the
// oauth2 library's transport.
func (m *TokenManager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}
