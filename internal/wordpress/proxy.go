// Package wordpress forwards REST calls to a tenant's site.
package wordpress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"wpmcp/pkg/logger"
)

const maxResponse = 10 << 20

// Credentials are the decrypted site credentials for one call.
type Credentials struct {
	URL      string
	Username string
	Password string
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client is what the gateway needs from the pass-through.
type Client interface {
	Do(ctx context.Context, creds Credentials, method, path string, query url.Values, body []byte) (Response, error)
}

type Proxy struct {
	http *http.Client
	log  *zap.SugaredLogger
}

func NewProxy(timeout time.Duration, log *zap.SugaredLogger) *Proxy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Proxy{
		http: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		log:  logger.OrNop(log),
	}
}

// WithClient swaps the HTTP client. Tests use it with httptest servers.
func (p *Proxy) WithClient(c *http.Client) *Proxy {
	p.http = c
	return p
}

// Do targets <site>/wp-json/<path>. Application passwords are displayed with spaces,
// which are stripped before building Basic auth.
func (p *Proxy) Do(ctx context.Context, creds Credentials, method, path string, query url.Values, body []byte) (Response, error) {
	target, err := Endpoint(creds.URL, path)
	if err != nil {
		return Response{}, err
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(creds.Username, stripSpaces(creds.Password))
	req.Header.Set("Accept", "application/json")
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("wordpress request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return Response{}, fmt.Errorf("read wordpress response: %w", err)
	}
	p.log.Debugw("wordpress call", "method", method, "path", path, "status", resp.StatusCode)
	return Response{Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

// Endpoint joins a site URL and a REST route.
func Endpoint(site, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(site))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid site url")
	}
	path = strings.TrimLeft(path, "/")
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("invalid path")
	}
	return strings.TrimRight(u.String(), "/") + "/wp-json/" + path, nil
}

func stripSpaces(s string) string { return strings.Join(strings.Fields(s), "") }
