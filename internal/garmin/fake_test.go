package garmin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	testUser     = "user@example.com"
	testPassword = "correct horse"
	testMFACode  = "123456"
	testTicket   = "ST-0123-test-cas"
	testCSRF     = "csrf-signin"
	testMFACSRF  = "csrf-mfa"
	testCookie   = "GARMIN-SSO"
)

var testConsumer = Consumer{Key: "consumer-key", Secret: "consumer-secret"}

func signinPage(csrf string) string {
	return `<!DOCTYPE html><html><head><title>GARMIN Authentication Application</title></head>
<body><form method="post"><input type="hidden" name="_csrf" value="` + csrf + `"/>
<input name="username"/><input type="password" name="password"/></form></body></html>`
}

func mfaPage(csrf string) string {
	return `<html><head><title>Enter MFA Code for Login</title></head>
<body><form><input name="mfa-code"/><input type="hidden" value="` + csrf + `" name="_csrf"></form></body></html>`
}

func successPage(ticket string) string {
	return `<html><head><title>Success</title></head><body><script type="text/javascript">
var response_url = "https:\/\/sso.garmin.com\/sso\/embed?ticket=` + ticket + `";
</script></body></html>`
}

// fakeGarmin is an httptest server standing in for both the SSO host and
// the connect API. Handler fields override individual endpoints.
type fakeGarmin struct {
	t   *testing.T
	srv *httptest.Server

	requireMFA bool
	maxRetries int

	signinHandler http.HandlerFunc
	mfaHandler    http.HandlerFunc
	oauth1Handler http.HandlerFunc
	oauth2Handler http.HandlerFunc
	uploadHandler http.HandlerFunc

	mu    sync.Mutex
	calls map[string]int
}

func newFakeGarmin(t *testing.T) *fakeGarmin {
	t.Helper()

	f := &fakeGarmin{t: t, calls: make(map[string]int), maxRetries: -1}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sso/embed", f.count("embed", f.handleEmbed))
	mux.HandleFunc("GET /sso/signin", f.count("signin_page", f.handleSigninPage))
	mux.HandleFunc("POST /sso/signin", f.count("signin_post", f.handleSigninPost))
	mux.HandleFunc("POST /sso/verifyMFA/loginEnterMfaCode", f.count("mfa_post", f.handleMFA))
	mux.HandleFunc("GET /oauth-service/oauth/preauthorized", f.count("oauth1", f.handleOAuth1))
	mux.HandleFunc("POST /oauth-service/oauth/exchange/user/2.0", f.count("oauth2", f.handleOAuth2))
	mux.HandleFunc("POST /upload-service/upload/{format}", f.count("upload", f.handleUpload))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeGarmin) count(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[name]++
		f.mu.Unlock()

		h(w, r)
	}
}

func (f *fakeGarmin) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[name]
}

func (f *fakeGarmin) config() Config {
	return Config{SSOURL: f.srv.URL, APIURL: f.srv.URL, MaxRetries: f.maxRetries}
}

func (f *fakeGarmin) handleEmbed(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, widgetID, r.URL.Query().Get("id"))
	http.SetCookie(w, &http.Cookie{Name: testCookie, Value: "session-1", Path: "/"})
	fmt.Fprint(w, "<html><head><title>GARMIN Authentication Application</title></head></html>")
}

func (f *fakeGarmin) handleSigninPage(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, f.srv.URL+"/sso/embed", r.URL.Query().Get("service"))
	fmt.Fprint(w, signinPage(testCSRF))
}

func (f *fakeGarmin) handleSigninPost(w http.ResponseWriter, r *http.Request) {
	if f.signinHandler != nil {
		f.signinHandler(w, r)
		return
	}

	_, err := r.Cookie(testCookie)
	assert.NoError(f.t, err, "embed cookie must be replayed")
	assert.NotEmpty(f.t, r.Header.Get("Referer"))

	if r.PostFormValue("_csrf") != testCSRF {
		fmt.Fprint(w, signinPage(testCSRF))
		return
	}

	if r.PostFormValue("username") != testUser || r.PostFormValue("password") != testPassword {
		fmt.Fprint(w, signinPage(testCSRF))
		return
	}

	if f.requireMFA {
		fmt.Fprint(w, mfaPage(testMFACSRF))
		return
	}

	fmt.Fprint(w, successPage(testTicket))
}

func (f *fakeGarmin) handleMFA(w http.ResponseWriter, r *http.Request) {
	if f.mfaHandler != nil {
		f.mfaHandler(w, r)
		return
	}

	if r.PostFormValue("_csrf") != testMFACSRF || r.PostFormValue("mfa-code") != testMFACode {
		fmt.Fprint(w, mfaPage(testMFACSRF))
		return
	}

	assert.Equal(f.t, mfaFromPage, r.PostFormValue("fromPage"))
	fmt.Fprint(w, successPage(testTicket))
}

func (f *fakeGarmin) handleOAuth1(w http.ResponseWriter, r *http.Request) {
	if f.oauth1Handler != nil {
		f.oauth1Handler(w, r)
		return
	}

	auth := r.Header.Get("Authorization")
	assert.True(f.t, strings.HasPrefix(auth, "OAuth "), "oauth1 request must be signed")
	assert.Contains(f.t, auth, `oauth_consumer_key="consumer-key"`)
	assert.NotContains(f.t, auth, "oauth_token=", "preauthorize is signed by the consumer alone")
	assert.Equal(f.t, testTicket, r.URL.Query().Get("ticket"))
	assert.Equal(f.t, "true", r.URL.Query().Get("accepts-mfa-tokens"))

	fmt.Fprint(w, "oauth_token=o1-token&oauth_token_secret=o1-secret")
}

func (f *fakeGarmin) handleOAuth2(w http.ResponseWriter, r *http.Request) {
	if f.oauth2Handler != nil {
		f.oauth2Handler(w, r)
		return
	}

	assert.Contains(f.t, r.Header.Get("Authorization"), `oauth_token="o1-token"`)

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"scope":"CONNECT_READ CONNECT_WRITE","jti":"jti-1","access_token":"access-1",
		"token_type":"Bearer","refresh_token":"refresh-1","expires_in":3600,"refresh_token_expires_in":7200}`)
}

func (f *fakeGarmin) handleUpload(w http.ResponseWriter, r *http.Request) {
	if f.uploadHandler != nil {
		f.uploadHandler(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"detailedImportResult":{"uploadId":123,"fileName":"weight.fit","successes":[],"failures":[]}}`)
}

// testClock is a settable clock for TokenStore.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

var testEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestAuthenticator wires a Client, TokenStore and Authenticator against f.
func newTestAuthenticator(t *testing.T, f *fakeGarmin) (*Authenticator, *TokenStore, *testClock) {
	t.Helper()

	client, err := NewClient(f.config(), nil, discardLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	client.sleepFunc = noopSleep

	clock := &testClock{now: testEpoch}
	store := NewTokenStore(clock.Now)

	return NewAuthenticator(client, store, testConsumer, discardLogger()), store, clock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

func testCreds() Credentials {
	return Credentials{Identifier: testUser, Secret: testPassword}
}
