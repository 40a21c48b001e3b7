package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	krakenBaseURL = "https://api.kraken.com"
	krakenVersion = "0"
	krakenTimeout = 20 * time.Second
)

// KrakenClient is the signed REST client for the Kraken API. Private calls
// carry a nonce and an HMAC-SHA512 signature over the URI path and the
// SHA256 of nonce+postdata, keyed with the base64-decoded secret. All calls
// go through the request serializer.
type KrakenClient struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
	Limiter    RateLimiter

	ser Serializer
}

func NewKrakenClient(key, secret string) *KrakenClient {
	return &KrakenClient{
		BaseURL:    krakenBaseURL,
		APIKey:     key,
		APISecret:  secret,
		HTTPClient: &http.Client{Timeout: krakenTimeout},
		Limiter:    NewTokenBucketLimiter(1, 3),
	}
}

// krakenEnvelope is the outer shape of every Kraken response.
type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// Public calls a public API method. Still serialized: the venue sees at
// most one request from this client at a time.
func (c *KrakenClient) Public(ctx context.Context, method string, params url.Values, out any) error {
	path := "/" + krakenVersion + "/public/" + method
	endpoint := c.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return c.ser.Do(func(string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("kraken: build request: %w", err)
		}
		return c.send(req, method, out)
	})
}

// Private calls an authenticated API method.
func (c *KrakenClient) Private(ctx context.Context, method string, params url.Values, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	path := "/" + krakenVersion + "/private/" + method
	return c.ser.Do(func(nonce string) error {
		if params == nil {
			params = url.Values{}
		}
		params.Set("nonce", nonce)
		postData := params.Encode()

		signature, err := c.sign(path, nonce, postData)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(postData))
		if err != nil {
			return fmt.Errorf("kraken: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("API-Key", c.APIKey)
		req.Header.Set("API-Sign", signature)
		return c.send(req, method, out)
	})
}

// sign computes HMAC-SHA512(path + SHA256(nonce + postData)) with the
// base64-decoded secret.
func (c *KrakenClient) sign(path, nonce, postData string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.APISecret)
	if err != nil {
		return "", fmt.Errorf("kraken: decode secret: %w", err)
	}
	inner := sha256.Sum256([]byte(nonce + postData))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (c *KrakenClient) send(req *http.Request, method string, out any) error {
	if c.HTTPClient == nil {
		return fmt.Errorf("kraken: http client not set")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("kraken: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kraken: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &StatusError{Venue: "kraken.com", Status: resp.StatusCode}
	}

	var envelope krakenEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("kraken: could not understand response: %w", err)
	}
	if len(envelope.Error) > 0 {
		msg := strings.Join(envelope.Error, "; ")
		if strings.Contains(msg, "Rate limit") || strings.Contains(msg, "Unavailable") {
			return &StatusError{Venue: "kraken.com", Status: 429}
		}
		return &APIError{Venue: "kraken.com", Message: msg}
	}

	if out != nil && envelope.Result != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("kraken: decode %s result: %w", method, err)
		}
	}
	return nil
}
