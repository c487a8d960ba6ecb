// Package bank talks to the acquiring gateway that holds customer payment
// authorizations.
package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
)

const (
	defaultTimeout             = 10 * time.Second
	defaultScope               = "payment"
	tokenPath                  = "/oauth2/token"
	responseBodyReadLimit      = 1024
	tokenExpirySkew            = 30 * time.Second
)

var (
	errBaseURLRequired     = errors.New("bank base url is required")
	errCredentialsRequired = errors.New("bank client id and secret are required")
)

var tracer = otel.Tracer("github.com/angelmondragon/marketplace-backend/pkg/bank")

// Gateway is the surface settlement depends on.
type Gateway interface {
	Authenticate(ctx context.Context) (*Token, error)
	Capture(ctx context.Context, token *Token, operationID string, amount *decimal.Decimal) (*CaptureResult, error)
}

// Token is a client-credentials access token.
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
	TokenType   string `json:"token_type"`
}

// CaptureResult is the gateway's answer to a charge request. Raw keeps the
// body verbatim for the order's settlement record.
type CaptureResult struct {
	Code         string          `json:"code"`
	Message      string          `json:"message,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	ApprovalCode string          `json:"approvalCode,omitempty"`
	ResponseCode string          `json:"responseCode,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// Client is the HTTP gateway client.
type Client struct {
	httpClient        *http.Client
	baseURL           string
	tokenURL          string
	clientID          string
	clientSecret      string
	integrationHeader string
	integrationID     string
	scope             string
	credentials       clientcredentials.Config
	tokenHTTPClient   *http.Client
	cache             TokenCache
	metrics           *metrics.PipelineMetrics
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured gateway base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = strings.TrimRight(trimmed, "/")
		}
	}
}

// WithTokenCache reuses tokens until shortly before they expire.
func WithTokenCache(cache TokenCache) Option {
	return func(c *Client) { c.cache = cache }
}

func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds the gateway client from configuration.
func NewClient(cfg config.BankConfig, opts ...Option) (*Client, error) {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:           strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		tokenURL:          strings.TrimSpace(cfg.TokenURL),
		clientID:          strings.TrimSpace(cfg.ClientID),
		clientSecret:      strings.TrimSpace(cfg.ClientSecret),
		integrationHeader: strings.TrimSpace(cfg.IntegrationHeader),
		integrationID:     strings.TrimSpace(cfg.IntegrationID),
		scope:             strings.TrimSpace(cfg.Scope),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.baseURL == "" {
		return nil, errBaseURLRequired
	}
	if client.clientID == "" || client.clientSecret == "" {
		return nil, errCredentialsRequired
	}
	if client.tokenURL == "" {
		client.tokenURL = client.baseURL + tokenPath
	}
	if client.scope == "" {
		client.scope = defaultScope
	}
	client.credentials = clientcredentials.Config{
		ClientID:     client.clientID,
		ClientSecret: client.clientSecret,
		TokenURL:     client.tokenURL,
		Scopes:       []string{client.scope},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	client.tokenHTTPClient = &http.Client{
		Timeout: client.httpClient.Timeout,
		Transport: &headerTransport{
			base:   client.httpClient.Transport,
			header: client.integrationHeader,
			value:  client.integrationID,
		},
	}
	return client, nil
}

// Authenticate exchanges the service credentials for a bearer token, serving
// from the cache when one is configured.
func (c *Client) Authenticate(ctx context.Context) (*Token, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "bank client not configured")
	}
	ctx, span := tracer.Start(ctx, "bank.authenticate")
	defer span.End()

	if c.cache != nil {
		tok, ok, err := c.cache.Get(ctx)
		if err == nil && ok {
			c.metrics.IncTokenCache(true)
			span.SetAttributes(attribute.Bool("bank.token_cached", true))
			return tok, nil
		}
		c.metrics.IncTokenCache(false)
	}

	tok, err := c.requestToken(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if c.cache != nil {
		if ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenExpirySkew; ttl > 0 {
			// a cache write failure only costs a re-authentication later
			_ = c.cache.Put(ctx, tok, ttl)
		}
	}
	return tok, nil
}

// requestToken runs a fresh client-credentials exchange on every call.
func (c *Client) requestToken(ctx context.Context) (*Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.tokenHTTPClient)
	tok, err := c.credentials.Token(ctx)
	if err != nil {
		wrapped := pkgerrors.Wrap(pkgerrors.CodeDependency, err, "token request failed")
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) && retrieve.Response != nil {
			wrapped = wrapped.WithDetails(map[string]any{"status": retrieve.Response.StatusCode})
		}
		return nil, wrapped
	}
	out := &Token{
		AccessToken: tok.AccessToken,
		ExpiresIn:   tok.ExpiresIn,
		TokenType:   tok.TokenType,
	}
	if out.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out, nil
}

// headerTransport stamps the integration header on token requests.
type headerTransport struct {
	base   http.RoundTripper
	header string
	value  string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Accept", "application/json")
	if t.header != "" && t.value != "" {
		clone.Header.Set(t.header, t.value)
	}
	return base.RoundTrip(clone)
}

// Capture charges a previously authorized hold. A nil amount captures the
// full hold; otherwise the capture is partial.
func (c *Client) Capture(ctx context.Context, token *Token, operationID string, amount *decimal.Decimal) (*CaptureResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "bank client not configured")
	}
	if token == nil || token.AccessToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "access token is required")
	}
	trimmed := strings.TrimSpace(operationID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "operation id is required")
	}
	if amount != nil && !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capture amount must be positive")
	}

	ctx, span := tracer.Start(ctx, "bank.capture")
	defer span.End()
	span.SetAttributes(attribute.Bool("bank.partial", amount != nil))

	endpoint := fmt.Sprintf("%s/operation/%s/charge", c.baseURL, url.PathEscape(trimmed))
	var payload io.Reader
	if amount != nil {
		formatted := amount.StringFixed(2)
		endpoint += "?" + url.Values{"amount": []string{formatted}}.Encode()
		raw, err := json.Marshal(struct {
			Amount json.Number `json:"amount"`
		}{Amount: json.Number(formatted)})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal capture request")
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build capture request")
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	body, err := c.do(req, "capture request")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	var wire struct {
		Code         flexString `json:"code"`
		Message      flexString `json:"message"`
		Reference    flexString `json:"reference"`
		ApprovalCode flexString `json:"approvalCode"`
		ResponseCode flexString `json:"responseCode"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode capture response")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("bank.code", string(wire.Code)))
	return &CaptureResult{
		Code:         string(wire.Code),
		Message:      string(wire.Message),
		Reference:    string(wire.Reference),
		ApprovalCode: string(wire.ApprovalCode),
		ResponseCode: string(wire.ResponseCode),
		Raw:          json.RawMessage(body),
	}, nil
}

func (c *Client) do(req *http.Request, action string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute "+action)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			action+" failed").
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read "+action+" response")
	}
	return body, nil
}

// flexString accepts JSON strings and numbers; the gateway is not consistent.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
