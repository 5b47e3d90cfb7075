package garmin

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
)

// SSO paths and page titles.
const (
	embedPath  = "/sso/embed"
	signinPath = "/sso/signin"
	mfaPath    = "/sso/verifyMFA/loginEnterMfaCode"

	titleSuccess = "Success"
	titleMFA     = "MFA"

	widgetID    = "gauth-widget"
	mfaFromPage = "setupEnterMfaCode"
)

// Consumer is the long-lived OAuth1 consumer key pair of the Garmin Connect
// mobile app, used to sign the ticket exchange.
type Consumer struct {
	Key    string
	Secret string
}

// pendingLogin is the state carried from an MFA challenge to CompleteMFA.
type pendingLogin struct {
	csrf    string
	referer string
}

// Authenticator runs the SSO login state machine:
//
//	Authenticate -> signin page -> credential POST -> Success | MFA | failure
//	CompleteMFA  -> MFA code POST -> Success | failure
//	Success      -> ticket -> OAuth1 (preauthorized) -> OAuth2 (exchange) -> TokenStore
//
// Like TokenStore, an Authenticator is single-session and not safe for
// concurrent use.
type Authenticator struct {
	client   *Client
	store    *TokenStore
	consumer Consumer
	scraper  Scraper
	logger   *slog.Logger

	status  AuthStatus
	pending *pendingLogin
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithScraper replaces the default HTML scraper.
func WithScraper(s Scraper) AuthOption {
	return func(a *Authenticator) {
		a.scraper = s
	}
}

// NewAuthenticator creates an Authenticator writing tokens into store.
func NewAuthenticator(
	client *Client, store *TokenStore, consumer Consumer, logger *slog.Logger, opts ...AuthOption,
) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Authenticator{
		client:   client,
		store:    store,
		consumer: consumer,
		scraper:  HTMLScraper{},
		logger:   logger,
		status:   NotAuthenticated,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Status returns the current authentication status.
func (a *Authenticator) Status() AuthStatus {
	return a.status
}

// Authenticate starts a fresh login with creds. Any pending MFA challenge is
// abandoned. On an MFA challenge it returns {MFARequested: true} and a nil
// error; the caller continues with CompleteMFA. Every other failure sets the
// status to Failed and returns a *ClientError.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (AuthResult, error) {
	if a.pending != nil {
		a.logger.Info("abandoning pending MFA challenge for a new login")
	}

	a.pending = nil
	a.status = NotAuthenticated
	creds = creds.normalized()

	a.logger.Info("starting SSO login")

	csrf, referer, err := a.startLogin(ctx)
	if err != nil {
		return a.fail("signin", err)
	}

	form := url.Values{
		"username": {creds.Identifier},
		"password": {creds.Secret},
		"embed":    {"true"},
		"_csrf":    {csrf},
	}

	body, err := a.client.postForm(ctx, referer, form, referer)
	if err != nil {
		return a.fail("signin", err)
	}

	return a.handlePage(ctx, "signin", body, referer, true)
}

// CompleteMFA submits the MFA code for the pending challenge. Returns
// ErrNoPendingMFA, without touching status or token, when no challenge is
// pending. The pending challenge is consumed whatever the outcome.
func (a *Authenticator) CompleteMFA(ctx context.Context, code string) (AuthResult, error) {
	p := a.pending
	if p == nil || a.status != NeedsMFA {
		return AuthResult{}, ErrNoPendingMFA
	}

	a.pending = nil

	a.logger.Info("submitting MFA code")

	form := url.Values{
		"mfa-code": {strings.TrimSpace(code)},
		"embed":    {"true"},
		"_csrf":    {p.csrf},
		"fromPage": {mfaFromPage},
	}

	body, err := a.client.postForm(ctx, a.client.ssoEndpoint(mfaPath, a.signinParams()), form, p.referer)
	if err != nil {
		return a.fail("mfa", err)
	}

	return a.handlePage(ctx, "mfa", body, p.referer, false)
}

// startLogin loads the embed widget (for its cookies) and the signin page,
// returning the signin form's CSRF value and the signin URL, which doubles
// as the Referer of the following POSTs.
func (a *Authenticator) startLogin(ctx context.Context) (csrf, signinURL string, err error) {
	embedURL := a.client.ssoEndpoint(embedPath, nil)

	embedParams := url.Values{
		"id":          {widgetID},
		"embedWidget": {"true"},
		"gauthHost":   {embedURL},
	}

	if _, err := a.client.getPage(ctx, a.client.ssoEndpoint(embedPath, embedParams), ""); err != nil {
		return "", "", err
	}

	signinURL = a.client.ssoEndpoint(signinPath, a.signinParams())

	body, err := a.client.getPage(ctx, signinURL, embedURL)
	if err != nil {
		return "", "", err
	}

	csrf, err = a.scraper.ContinuationToken(body)
	if err != nil {
		return "", "", &ClientError{Op: "signin", Diagnostic: a.scraper.Title(body), Err: err}
	}

	return csrf, signinURL, nil
}

// signinParams are the query parameters identifying the embedded widget.
func (a *Authenticator) signinParams() url.Values {
	embedURL := a.client.ssoEndpoint(embedPath, nil)

	return url.Values{
		"id":                              {widgetID},
		"embedWidget":                     {"true"},
		"gauthHost":                       {embedURL},
		"service":                         {embedURL},
		"source":                          {embedURL},
		"redirectAfterAccountLoginUrl":    {embedURL},
		"redirectAfterAccountCreationUrl": {embedURL},
	}
}

// handlePage interprets the page returned by a credential or MFA POST.
func (a *Authenticator) handlePage(
	ctx context.Context, op string, body []byte, referer string, allowMFA bool,
) (AuthResult, error) {
	title := a.scraper.Title(body)

	switch {
	case title == titleSuccess:
		ticket, err := a.scraper.Ticket(body)
		if err != nil {
			return a.fail(op, &ClientError{Op: op, Diagnostic: title, Err: err})
		}

		a.logger.Info("service ticket obtained")

		return a.exchange(ctx, ticket)

	case strings.Contains(title, titleMFA) && allowMFA:
		csrf, err := a.scraper.ContinuationToken(body)
		if err != nil {
			return a.fail(op, &ClientError{Op: op, Diagnostic: title, Err: err})
		}

		a.pending = &pendingLogin{csrf: csrf, referer: referer}
		a.status = NeedsMFA

		a.logger.Info("MFA code requested")

		return AuthResult{MFARequested: true}, nil

	case strings.Contains(title, titleMFA):
		return a.fail(op, &ClientError{Op: op, Diagnostic: "repeated MFA challenge: " + title, Err: ErrAuthFailed})

	default:
		return a.fail(op, &ClientError{Op: op, Diagnostic: title, Err: ErrAuthFailed})
	}
}

// exchange turns a service ticket into an OAuth2 token and stores it.
func (a *Authenticator) exchange(ctx context.Context, ticket string) (AuthResult, error) {
	o1, err := a.client.preauthorize(ctx, a.consumer, ticket)
	if err != nil {
		return a.fail("oauth1", exchangeError("oauth1", err))
	}

	tok, err := a.client.exchangeOAuth2(ctx, a.consumer, o1, a.store.now())
	if err != nil {
		return a.fail("oauth2", exchangeError("oauth2", err))
	}

	a.store.Set(tok)
	a.status = Authenticated

	a.logger.Info("authenticated",
		slog.Time("expiry", tok.Expiry),
	)

	return AuthResult{Success: true}, nil
}

// fail ends the flow: status Failed, pending challenge dropped. err is
// returned as a *ClientError, wrapping it if needed.
func (a *Authenticator) fail(op string, err error) (AuthResult, error) {
	a.status = Failed
	a.pending = nil

	var ce *ClientError
	if !errors.As(err, &ce) {
		ce = &ClientError{Op: op, Err: err}
		err = ce
	}

	a.logger.Error("authentication failed",
		slog.String("step", ce.Op),
		slog.String("error", err.Error()),
	)

	return AuthResult{}, err
}
