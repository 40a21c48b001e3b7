package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBitcoindeClient(ts *httptest.Server) *BitcoindeClient {
	cli := NewBitcoindeClient("key", "secret")
	cli.BaseURL = ts.URL
	cli.HTTPClient = ts.Client()
	cli.Limiter = NopLimiter{}
	return cli
}

func TestBitcoindeClientSignsRequests(t *testing.T) {
	var gotKey, gotNonce, gotSig, gotURL string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		gotNonce = r.Header.Get("X-API-NONCE")
		gotSig = r.Header.Get("X-API-SIGNATURE")
		gotURL = "http://" + r.Host + r.URL.String()
		io.WriteString(w, `{"errors":[],"credits":20}`)
	}))
	defer ts.Close()

	cli := newTestBitcoindeClient(ts)
	err := cli.Get(context.Background(), "account", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "key", gotKey)
	require.NotEmpty(t, gotNonce)

	// Recompute the signature the server side would verify.
	mac := hmac.New(sha256.New, []byte("secret"))
	fmt.Fprintf(mac, "GET#%s#key#%s#%s", gotURL, gotNonce, emptyBodyMD5)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestBitcoindeClientSignsPostBody(t *testing.T) {
	var gotNonce, gotSig, gotURL, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotNonce = r.Header.Get("X-API-NONCE")
		gotSig = r.Header.Get("X-API-SIGNATURE")
		gotURL = "http://" + r.Host + r.URL.String()
		io.WriteString(w, `{"errors":[],"credits":18}`)
	}))
	defer ts.Close()

	cli := newTestBitcoindeClient(ts)
	params := urlValues("type", "buy", "amount", "0.50000000")
	err := cli.Post(context.Background(), "trades/ABC123", params, nil)
	require.NoError(t, err)

	// url.Values.Encode sorts keys, so the body is deterministic.
	assert.Equal(t, "amount=0.50000000&type=buy", gotBody)

	sum := md5.Sum([]byte(gotBody))
	mac := hmac.New(sha256.New, []byte("secret"))
	fmt.Fprintf(mac, "POST#%s#key#%s#%s", gotURL, gotNonce, hex.EncodeToString(sum[:]))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestBitcoindeClientEnvelopeError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"errors":[{"message":"Insufficient credits","code":4}],"credits":0}`)
	}))
	defer ts.Close()

	cli := newTestBitcoindeClient(ts)
	err := cli.Get(context.Background(), "orders", nil, nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bitcoin.de", apiErr.Venue)
	assert.Equal(t, 4, apiErr.Code)
}

func TestBitcoindeClientNoncesIncrease(t *testing.T) {
	var nonces []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nonces = append(nonces, r.Header.Get("X-API-NONCE"))
		io.WriteString(w, `{"errors":[],"credits":20}`)
	}))
	defer ts.Close()

	cli := newTestBitcoindeClient(ts)
	for i := 0; i < 10; i++ {
		require.NoError(t, cli.Get(context.Background(), "rates", nil, nil))
	}

	require.Len(t, nonces, 10)
	for i := 1; i < len(nonces); i++ {
		assert.True(t, nonceLess(nonces[i-1], nonces[i]),
			"nonce %q not greater than %q", nonces[i], nonces[i-1])
	}
}

// nonceLess compares numeric strings without parsing them into integers.
func nonceLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func urlValues(pairs ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	return v
}
