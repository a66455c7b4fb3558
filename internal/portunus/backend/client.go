// Package backend talks to the remote access-control service: the credential
// catalog (version token and full key list) and the telemetry endpoint.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

var (
	ErrTransport        = errors.New("backend: transport error")
	ErrTimeout          = errors.New("backend: timeout")
	ErrRemoteServer     = errors.New("backend: remote server error")
	ErrInvalidVersion   = errors.New("backend: invalid version token")
	ErrMalformedCatalog = errors.New("backend: malformed catalog")
)

// RemoteServerError reports a non-success HTTP status.
type RemoteServerError struct {
	StatusCode int
}

func (e *RemoteServerError) Error() string {
	return fmt.Sprintf("backend: remote server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *RemoteServerError) Is(target error) bool { return target == ErrRemoteServer }

// EventIDHeader carries the LogEvent ID so the endpoint can drop redeliveries.
const EventIDHeader = "X-Event-ID"

type Config struct {
	BaseURL       string // e.g. "https://access.example.org"
	DeviceName    string
	CatalogPrefix string // "db"
	VersionPrefix string // "dbVersion"
	LogPrefix     string // "logEvent"

	// VersionLen is the exact byte length of a valid version token.
	VersionLen int

	// InsecureSkipVerify disables TLS peer verification.
	InsecureSkipVerify bool
}

// Client issues one independent request per call; connections are not
// reused between attempts. Timeouts come from the caller's context.
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		DisableKeepAlives: true,
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
	}
	return &Client{cfg: cfg, http: &http.Client{Transport: tr}}
}

// NewWithHTTPClient is New with a caller-supplied transport, for tests.
func NewWithHTTPClient(cfg Config, hc *http.Client) *Client {
	return &Client{cfg: cfg, http: hc}
}

func (c *Client) endpoint(prefix string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" +
		url.PathEscape(c.cfg.DeviceName) + "/" + strings.Trim(prefix, "/")
}

// FetchVersion returns the catalog's current version token.
func (c *Client) FetchVersion(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint(c.cfg.VersionPrefix), nil, nil)
	if err != nil {
		return nil, err
	}
	defer drainClose(resp.Body)

	// Read one byte past the expected length so an oversized token is caught.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.cfg.VersionLen)+1))
	if err != nil {
		return nil, classify(err)
	}
	if len(body) != c.cfg.VersionLen {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidVersion, c.cfg.VersionLen, len(body))
	}
	return body, nil
}

// OpenCatalog starts the full credential list download. The caller must
// close the returned body; read errors are classified by ReadRecords.
func (c *Client) OpenCatalog(ctx context.Context) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint(c.cfg.CatalogPrefix), nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

type logEventBody struct {
	Type string `json:"type"`
	Hash string `json:"hash"`
}

// PostEvent delivers one telemetry event.
func (c *Client) PostEvent(ctx context.Context, ev types.LogEvent) error {
	body, err := json.Marshal(logEventBody{Type: ev.Kind.String(), Hash: ev.Hash()})
	if err != nil {
		return fmt.Errorf("backend: marshal log event: %w", err)
	}

	hdr := http.Header{"Content-Type": {"application/json"}}
	if ev.ID != "" {
		hdr.Set(EventIDHeader, ev.ID)
	}

	resp, err := c.do(ctx, http.MethodPost, c.endpoint(c.cfg.LogPrefix), bytes.NewReader(body), hdr)
	if err != nil {
		return err
	}
	drainClose(resp.Body)
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader, hdr http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTransport, err)
	}
	for k, vs := range hdr {
		req.Header[k] = vs
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drainClose(resp.Body)
		return nil, &RemoteServerError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func classify(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4096))
	_ = rc.Close()
}
