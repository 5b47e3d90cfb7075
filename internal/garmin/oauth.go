package garmin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// OAuth exchange paths.
const (
	preauthorizedPath = "/oauth-service/oauth/preauthorized"
	exchangePath      = "/oauth-service/oauth/exchange/user/2.0"
)

// oauth1Token is the token pair returned for a service ticket. MFAToken is
// only set for accounts that passed an MFA challenge and is forwarded to the
// OAuth2 exchange.
type oauth1Token struct {
	Token    string
	Secret   string
	MFAToken string
}

// oauth2Response is the JSON body of the OAuth2 exchange.
type oauth2Response struct {
	Scope                 string `json:"scope"`
	JTI                   string `json:"jti"`
	AccessToken           string `json:"access_token"`
	TokenType             string `json:"token_type"`
	RefreshToken          string `json:"refresh_token"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
}

// signedClient returns an HTTP client that signs every request with OAuth1
// HMAC-SHA1 using the consumer pair and tok. It shares c's transport.
func (c *Client) signedClient(ctx context.Context, consumer Consumer, tok *oauth1.Token) *http.Client {
	cfg := oauth1.NewConfig(consumer.Key, consumer.Secret)
	hc := cfg.Client(context.WithValue(ctx, oauth1.HTTPClient, c.httpClient), tok)
	hc.Timeout = c.httpClient.Timeout

	return hc
}

// preauthorize exchanges a service ticket for an OAuth1 token pair.
func (c *Client) preauthorize(ctx context.Context, consumer Consumer, ticket string) (*oauth1Token, error) {
	params := url.Values{
		"ticket":             {ticket},
		"login-url":          {c.ssoEndpoint(embedPath, nil)},
		"accepts-mfa-tokens": {"true"},
	}

	endpoint := c.apiEndpoint(preauthorizedPath, params)

	auth, err := consumerAuthHeader(http.MethodGet, endpoint, consumer, time.Now().Unix(), newNonce())
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("Authorization", auth)

	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		url:    endpoint,
		header: h,
		retry:  true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("garmin: decoding oauth1 response: %w", err)
	}

	tok := &oauth1Token{
		Token:    vals.Get("oauth_token"),
		Secret:   vals.Get("oauth_token_secret"),
		MFAToken: vals.Get("mfa_token"),
	}

	if tok.Token == "" || tok.Secret == "" {
		return nil, errors.New("garmin: oauth1 response missing token pair")
	}

	return tok, nil
}

// consumerAuthHeader builds an OAuth1 HMAC-SHA1 Authorization header signed
// by the consumer pair alone. Unlike oauth1.Config.Client it sends no
// oauth_token parameter, which the preauthorize endpoint does not expect.
func consumerAuthHeader(method, rawURL string, consumer Consumer, timestamp int64, nonce string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", rawURL, err)
	}

	signer := &oauth1.HMACSigner{ConsumerSecret: consumer.Secret}

	oauthParams := map[string]string{
		"oauth_consumer_key":     consumer.Key,
		"oauth_nonce":            nonce,
		"oauth_signature_method": signer.Name(),
		"oauth_timestamp":        strconv.FormatInt(timestamp, 10),
		"oauth_version":          "1.0",
	}

	var pairs []string
	for k, vs := range u.Query() {
		for _, v := range vs {
			pairs = append(pairs, oauth1.PercentEncode(k)+"="+oauth1.PercentEncode(v))
		}
	}

	for k, v := range oauthParams {
		pairs = append(pairs, oauth1.PercentEncode(k)+"="+oauth1.PercentEncode(v))
	}

	sort.Strings(pairs)

	baseURL := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()
	base := strings.ToUpper(method) + "&" + oauth1.PercentEncode(baseURL) + "&" +
		oauth1.PercentEncode(strings.Join(pairs, "&"))

	sig, err := signer.Sign("", base)
	if err != nil {
		return "", fmt.Errorf("signing request: %w", err)
	}

	oauthParams["oauth_signature"] = sig

	fields := make([]string, 0, len(oauthParams))
	for k, v := range oauthParams {
		fields = append(fields, fmt.Sprintf(`%s="%s"`, oauth1.PercentEncode(k), oauth1.PercentEncode(v)))
	}

	sort.Strings(fields)

	return "OAuth " + strings.Join(fields, ", "), nil
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// exchangeOAuth2 trades the OAuth1 pair for an OAuth2 bearer token. now is
// the reference time for expires_in.
func (c *Client) exchangeOAuth2(
	ctx context.Context, consumer Consumer, o1 *oauth1Token, now time.Time,
) (*oauth2.Token, error) {
	form := url.Values{}
	if o1.MFAToken != "" {
		form.Set("mfa_token", o1.MFAToken)
	}

	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		url:    c.apiEndpoint(exchangePath, nil),
		header: h,
		body:   []byte(form.Encode()),
		client: c.signedClient(ctx, consumer, oauth1.NewToken(o1.Token, o1.Secret)),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var r oauth2Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("garmin: decoding oauth2 response: %w", err)
	}

	return r.token(now)
}

// token converts the exchange response. Expiry comes from expires_in; when
// that is absent the exp claim of the (JWT) access token is used.
func (r *oauth2Response) token(now time.Time) (*oauth2.Token, error) {
	if r.AccessToken == "" {
		return nil, errors.New("garmin: oauth2 response missing access_token")
	}

	var expiry time.Time

	if r.ExpiresIn > 0 {
		expiry = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	} else {
		exp, err := jwtExpiry(r.AccessToken)
		if err != nil {
			return nil, err
		}

		expiry = exp
	}

	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
		Expiry:       expiry,
	}

	return tok.WithExtra(map[string]any{
		"scope": r.Scope,
		"jti":   r.JTI,
	}), nil
}

// jwtExpiry reads the exp claim without verifying the signature. The token
// was just handed to us over TLS by the issuer; we only need its lifetime.
func jwtExpiry(accessToken string) (time.Time, error) {
	var claims jwt.RegisteredClaims

	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, fmt.Errorf("garmin: access token has no expires_in and is not a JWT: %w", err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("garmin: access token has no expiry")
	}

	return claims.ExpiresAt.Time, nil
}

// exchangeError wraps an exchange step failure so that both
// ErrExchangeFailed and the cause match errors.Is.
func exchangeError(op string, err error) error {
	return &ClientError{
		Op:  op,
		Err: fmt.Errorf("%w: %w", ErrExchangeFailed, err),
	}
}
