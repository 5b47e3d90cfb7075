package garmin

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // OAuth1 HMAC-SHA1 is what the server verifies.
	"encoding/base64"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerAuthHeader_SignsWithConsumerOnly(t *testing.T) {
	auth, err := consumerAuthHeader("get", "https://API.example.com/p?ticket=ST-1&b=x y",
		Consumer{Key: "ck", Secret: "cs"}, 1, "n")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(auth, "OAuth "))
	assert.NotContains(t, auth, "oauth_token")

	params := parseAuthHeader(t, auth)
	assert.Equal(t, "ck", params["oauth_consumer_key"])
	assert.Equal(t, "n", params["oauth_nonce"])
	assert.Equal(t, "HMAC-SHA1", params["oauth_signature_method"])
	assert.Equal(t, "1", params["oauth_timestamp"])
	assert.Equal(t, "1.0", params["oauth_version"])

	base := "GET&https%3A%2F%2Fapi.example.com%2Fp&" +
		url.QueryEscape("b=x%20y&oauth_consumer_key=ck&oauth_nonce=n&oauth_signature_method=HMAC-SHA1"+
			"&oauth_timestamp=1&oauth_version=1.0&ticket=ST-1")

	// An empty token secret leaves the key as "consumer_secret&".
	mac := hmac.New(sha1.New, []byte("cs&"))
	mac.Write([]byte(base))

	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), params["oauth_signature"])
}

func TestConsumerAuthHeader_BadURL(t *testing.T) {
	_, err := consumerAuthHeader("GET", "://bad", testConsumer, 1, "n")
	assert.Error(t, err)
}

func TestNewNonce_Unique(t *testing.T) {
	a, b := newNonce(), newNonce()

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

// parseAuthHeader decodes an `OAuth k="v", ...` header.
func parseAuthHeader(t *testing.T, auth string) map[string]string {
	t.Helper()

	out := make(map[string]string)

	for _, field := range strings.Split(strings.TrimPrefix(auth, "OAuth "), ", ") {
		k, v, ok := strings.Cut(field, "=")
		require.True(t, ok, field)

		v, err := url.PathUnescape(strings.Trim(v, `"`))
		require.NoError(t, err)

		out[k] = v
	}

	return out
}
