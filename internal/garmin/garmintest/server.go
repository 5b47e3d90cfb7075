// Package garmintest provides an in-process stand-in for the Garmin SSO host
// and the connect API, for tests of code that drives a full login and
// upload.
package garmintest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Accepted credentials and codes.
const (
	User     = "user@example.com"
	Password = "hunter2"
	MFACode  = "654321"
	UploadID = "123"
)

// Endpoint names accepted by Server.Calls.
const (
	Embed      = "embed"
	SigninPage = "signin"
	Signin     = "signin_post"
	MFA        = "mfa"
	OAuth1     = "oauth1"
	OAuth2     = "oauth2"
	Upload     = "upload"
)

const (
	signinCSRF = "c1"
	mfaCSRF    = "c2"
)

// Server answers the SSO widget flow, both OAuth exchanges and activity
// uploads. Set fields before the first request.
type Server struct {
	URL string

	// RequireMFA makes a correct password lead to the MFA page.
	RequireMFA bool
	// UploadHandler replaces the default upload response, which reports
	// UploadID as a success.
	UploadHandler http.HandlerFunc

	srv   *httptest.Server
	mu    sync.Mutex
	calls map[string]int
}

// NewServer starts a Server that is closed when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{calls: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sso/embed", s.count(Embed, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, page("GARMIN Authentication Application", ""))
	}))
	mux.HandleFunc("GET /sso/signin", s.count(SigninPage, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, page("GARMIN Authentication Application", csrfInput(signinCSRF)))
	}))
	mux.HandleFunc("POST /sso/signin", s.count(Signin, s.handleSignin))
	mux.HandleFunc("POST /sso/verifyMFA/loginEnterMfaCode", s.count(MFA, s.handleMFA))
	mux.HandleFunc("GET /oauth-service/oauth/preauthorized", s.count(OAuth1, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "oauth_token=t1&oauth_token_secret=s1")
	}))
	mux.HandleFunc("POST /oauth-service/oauth/exchange/user/2.0", s.count(OAuth2, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`)
	}))
	mux.HandleFunc("POST /upload-service/upload/{format}", s.count(Upload, s.handleUpload))

	s.srv = httptest.NewServer(mux)
	s.URL = s.srv.URL
	t.Cleanup(s.srv.Close)

	return s
}

// Calls returns how often the named endpoint was hit.
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[name]
}

func (s *Server) count(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[name]++
		s.mu.Unlock()

		h(w, r)
	}
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.PostFormValue("_csrf") != signinCSRF,
		r.PostFormValue("username") != User,
		r.PostFormValue("password") != Password:
		fmt.Fprint(w, page("GARMIN Authentication Application", csrfInput(signinCSRF)))
	case s.RequireMFA:
		fmt.Fprint(w, page("Enter MFA Code for Login", csrfInput(mfaCSRF)))
	default:
		fmt.Fprint(w, successPage())
	}
}

func (s *Server) handleMFA(w http.ResponseWriter, r *http.Request) {
	if r.PostFormValue("_csrf") != mfaCSRF || r.PostFormValue("mfa-code") != MFACode {
		fmt.Fprint(w, page("Enter MFA Code for Login", csrfInput(mfaCSRF)))
		return
	}

	fmt.Fprint(w, successPage())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.UploadHandler != nil {
		s.UploadHandler(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"detailedImportResult":{"uploadId":%s,"fileName":"activity.fit","failures":[]}}`, UploadID)
}

func page(title, body string) string {
	return "<html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
}

func csrfInput(v string) string {
	return `<form><input type="hidden" name="_csrf" value="` + v + `"/></form>`
}

func successPage() string {
	return page("Success", `<script>var u = "https://sso.garmin.com/sso/embed?ticket=ST-1";</script>`)
}
