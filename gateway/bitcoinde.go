package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	bitcoindeBaseURL = "https://api.bitcoin.de/v1"
	bitcoindeTimeout = 20 * time.Second
	bitcoindeAgent   = "money-printer"
)

// emptyBodyMD5 is the md5 of an empty request body, used for GET/DELETE
// signatures.
var emptyBodyMD5 = func() string {
	sum := md5.Sum(nil)
	return hex.EncodeToString(sum[:])
}()

// BitcoindeClient is the signed REST client for the bitcoin.de v1 API.
// Every call is funneled through the request serializer, so at most one
// request per client is in flight and nonces reach the venue in order.
// HTTPClient is injectable for httptest.
type BitcoindeClient struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
	Limiter    RateLimiter

	ser Serializer
}

func NewBitcoindeClient(key, secret string) *BitcoindeClient {
	return &BitcoindeClient{
		BaseURL:    bitcoindeBaseURL,
		APIKey:     key,
		APISecret:  secret,
		HTTPClient: &http.Client{Timeout: bitcoindeTimeout},
		Limiter:    NewTokenBucketLimiter(2, 4),
	}
}

type bitcoindeAPIError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Field   string `json:"field,omitempty"`
}

// bitcoindeEnvelope is present on every response: a list of errors and the
// remaining request credits.
type bitcoindeEnvelope struct {
	Errors  []bitcoindeAPIError `json:"errors"`
	Credits int                 `json:"credits"`
}

// Get performs a signed GET request against an API method.
func (c *BitcoindeClient) Get(ctx context.Context, method string, params url.Values, out any) error {
	return c.request(ctx, http.MethodGet, method, params, out)
}

// Post performs a signed POST request with a form-encoded body.
func (c *BitcoindeClient) Post(ctx context.Context, method string, params url.Values, out any) error {
	return c.request(ctx, http.MethodPost, method, params, out)
}

// Delete performs a signed DELETE request.
func (c *BitcoindeClient) Delete(ctx context.Context, method string, params url.Values, out any) error {
	return c.request(ctx, http.MethodDelete, method, params, out)
}

func (c *BitcoindeClient) request(ctx context.Context, httpMethod, apiMethod string, params url.Values, out any) error {
	if c.HTTPClient == nil {
		return fmt.Errorf("bitcoin.de: http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return c.ser.Do(func(nonce string) error {
		return c.send(ctx, httpMethod, apiMethod, params, nonce, out)
	})
}

func (c *BitcoindeClient) send(ctx context.Context, httpMethod, apiMethod string, params url.Values, nonce string, out any) error {
	endpoint := strings.TrimSuffix(c.BaseURL, "/") + "/" + apiMethod
	bodyMD5 := emptyBodyMD5
	var body io.Reader

	if len(params) > 0 {
		// url.Values.Encode sorts by key, which the signature requires.
		encoded := params.Encode()
		if httpMethod == http.MethodPost {
			sum := md5.Sum([]byte(encoded))
			bodyMD5 = hex.EncodeToString(sum[:])
			body = strings.NewReader(encoded)
		} else {
			endpoint += "?" + encoded
		}
	}

	// Signature input: METHOD#url#key#nonce#md5(body)
	mac := hmac.New(sha256.New, []byte(c.APISecret))
	fmt.Fprintf(mac, "%s#%s#%s#%s#%s", httpMethod, endpoint, c.APIKey, nonce, bodyMD5)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, body)
	if err != nil {
		return fmt.Errorf("bitcoin.de: build request: %w", err)
	}
	req.Header.Set("User-Agent", bitcoindeAgent)
	req.Header.Set("X-API-KEY", c.APIKey)
	req.Header.Set("X-API-NONCE", nonce)
	req.Header.Set("X-API-SIGNATURE", signature)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("bitcoin.de: %s %s: %w", httpMethod, apiMethod, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bitcoin.de: read response: %w", err)
	}

	var envelope bitcoindeEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode >= 300 {
			return &StatusError{Venue: "bitcoin.de", Status: resp.StatusCode}
		}
		return fmt.Errorf("bitcoin.de: could not understand response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		return &APIError{Venue: "bitcoin.de", Code: first.Code, Message: first.Message}
	}
	if resp.StatusCode >= 300 {
		return &StatusError{Venue: "bitcoin.de", Status: resp.StatusCode}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("bitcoin.de: decode %s response: %w", apiMethod, err)
		}
	}
	return nil
}
