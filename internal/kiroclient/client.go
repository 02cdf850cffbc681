// Package kiroclient is the outbound HTTP client for Kiro's
// /generateAssistantResponse streaming endpoint and its /mcp companion
// (used for web_search tool calls).
package kiroclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

const (
	connectTimeout        = 10 * time.Second
	responseHeaderTimeout = 30 * time.Second
	idleStreamTimeout     = 120 * time.Second

	contentType  = "application/json"
	acceptStream = "*/*"
)

// ProxyConfig configures an outbound HTTP(S) proxy, mirrored from the
// gateway's own config.ProxyConfig so this package stays independent of
// internal/config.
type ProxyConfig struct {
	URL      string
	Username string
	Password string
}

// Client posts chat and MCP requests to Kiro. One Client is shared across
// all credentials and requests; nothing here is credential-specific.
type Client struct {
	httpClient  *http.Client
	kiroVersion string
	machineID   string
	systemVer   string
	nodeVer     string
}

// Config configures a Client. KiroVersion/MachineID/SystemVersion/NodeVersion
// are echoed into request headers the way Kiro's own clients do.
type Config struct {
	KiroVersion   string
	MachineID     string
	SystemVersion string
	NodeVersion   string
	Proxy         ProxyConfig
}

// New builds a Client whose transport enforces spec-mandated timeouts:
// connect 10s, response-header wait 30s. Per-stream idle timeout (120s) is
// enforced separately by wrapping the response body, since http.Client's
// own Timeout field would also cap a long-lived legitimate stream.
func New(cfg Config) (*Client, error) {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: responseHeaderTimeout,
	}
	if cfg.Proxy.URL != "" {
		proxyURL, err := url.Parse(cfg.Proxy.URL)
		if err != nil {
			return nil, fmt.Errorf("kiroclient: parse proxy url: %w", err)
		}
		if cfg.Proxy.Username != "" {
			proxyURL.User = url.UserPassword(cfg.Proxy.Username, cfg.Proxy.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		httpClient:  &http.Client{Transport: transport},
		kiroVersion: cfg.KiroVersion,
		machineID:   cfg.MachineID,
		systemVer:   cfg.SystemVersion,
		nodeVer:     cfg.NodeVersion,
	}, nil
}

// StreamRequest is everything Stream needs beyond the body itself.
type StreamRequest struct {
	Region      string
	AccessToken string
	Body        []byte
}

// Stream posts body to Kiro's generateAssistantResponse endpoint and
// returns the response body reader, already wrapped with the 120s
// per-stream idle timeout. The caller owns closing the returned
// io.ReadCloser. A non-2xx response is returned as an error carrying the
// status code and a bounded prefix of the response body.
func (c *Client) Stream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, GenerateAssistantResponseURL(req.Region), newBodyReader(req.Body))
	if err != nil {
		return nil, err
	}
	c.setCommonHeaders(httpReq, req.AccessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp)
	}
	return newIdleTimeoutReadCloser(resp.Body, idleStreamTimeout), nil
}

// MCP posts a tool-call body to Kiro's /mcp endpoint (web_search
// execution) and returns the raw response body. Unlike Stream this is not
// event-stream framed: Kiro's /mcp responses are plain JSON.
func (c *Client) MCP(ctx context.Context, region, accessToken string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, MCPURL(region), newBodyReader(body))
	if err != nil {
		return nil, err
	}
	c.setCommonHeaders(httpReq, accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) setCommonHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", acceptStream)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("x-amzn-codewhisperer-optout", "true")
	req.Header.Set("Amz-Sdk-Invocation-Id", uuid.New().String())
	if c.kiroVersion != "" {
		req.Header.Set("x-amzn-kiro-version", c.kiroVersion)
	}
	if c.machineID != "" {
		req.Header.Set("x-amzn-kiro-machine-id", c.machineID)
	}
	if c.systemVer != "" {
		req.Header.Set("x-amzn-kiro-system-version", c.systemVer)
	}
	if c.nodeVer != "" {
		req.Header.Set("x-amzn-kiro-node-version", c.nodeVer)
	}
}
