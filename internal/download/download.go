// Package download is the shared HTTP client: metadata GETs (optionally
// served from a local cache) and streaming file downloads with a progress
// bar. No retries; a failed request surfaces as the command's failure.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/dnscache"
	"github.com/schollz/progressbar/v3"

	"github.com/teamcutter/binq/internal/domain"
)

const userAgent = "binq"

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

func (e *HTTPError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// Metadata is a cache for small GET responses. Implemented by
// internal/metacache; nil disables caching.
type Metadata interface {
	Get(url string) ([]byte, bool)
	Put(url string, body []byte) error
}

type Client struct {
	http  *http.Client
	cache Metadata
	quiet bool
}

// New builds a client with a DNS-cached dialer.
func New(timeout time.Duration) *Client {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}

	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
					}
					return nil, fmt.Errorf("failed to dial any resolved IP for %s", host)
				},
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// WithCache routes Get/GetJSON through a metadata cache.
func (c *Client) WithCache(cache Metadata) *Client {
	c.cache = cache
	return c
}

// Quiet suppresses progress bars (tests).
func (c *Client) Quiet() *Client {
	c.quiet = true
	return c
}

// Get fetches url, serving from and filling the metadata cache when one is
// attached.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if c.cache != nil {
		if body, ok := c.cache.Get(url); ok {
			return body, nil
		}
	}

	body, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		_ = c.cache.Put(url, body)
	}
	return body, nil
}

// GetUncached always hits the network. Used for checksum manifests, whose
// bytes must match the artifact being verified right now.
func (c *Client) GetUncached(ctx context.Context, url string) ([]byte, error) {
	return c.fetch(ctx, url)
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	return io.ReadAll(resp.Body)
}

// GetJSON fetches and decodes a JSON document. Decode failures are parse
// errors naming the endpoint.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &domain.ParseError{Source: url, Err: err}
	}
	return nil
}

// Download streams url into dst, showing a byte progress bar described by
// desc.
func (c *Client) Download(ctx context.Context, url, dst, desc string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	file, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer file.Close()

	var w io.Writer = file
	if !c.quiet {
		bar := progressbar.DefaultBytes(resp.ContentLength, desc)
		w = io.MultiWriter(file, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	return nil
}
