package extras

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/icholy/digest"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// Defaults for the side channel.
const (
	DefaultExecEndpoint = "/x/exec.cgi?cmd={cmd}"
	DefaultTimeout      = 5 * time.Second
	DefaultRetries      = 1
	DefaultBackoff      = 200 * time.Millisecond

	maxBodySize = 1 << 20
	cmdToken    = "{cmd}"
)

// CandidateEndpoints are tried in order when no extras endpoint is configured.
var CandidateEndpoints = []string{
	"/onvif.json",
	"/x/json-onvif.cgi",
	"/cgi-bin/onvif.json",
}

// Auth modes.
const (
	AuthBasic  = "basic"
	AuthDigest = "digest"
	AuthNone   = "none"
)

var (
	// ErrUnauthorized is a 401 from the side channel.
	ErrUnauthorized = errors.New("side channel requires authentication")
	// ErrUnexpectedStatus is any other non-200 response.
	ErrUnexpectedStatus = errors.New("unexpected side channel status")
)

// Options configures a Client.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	// Auth is AuthBasic (default), AuthDigest or AuthNone.
	Auth    string
	Timeout time.Duration
	// Retries is how many times a failed request is repeated. Negative disables retries.
	Retries int
	Backoff time.Duration
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// Client talks to the HTTP side channel of one camera.
type Client struct {
	opts   Options
	client *http.Client
	logger logging.Logger
}

// NewClient returns a Client for opts.
func NewClient(opts Options, logger logging.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	} else if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Auth == "" {
		opts.Auth = AuthBasic
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.Auth == AuthDigest && opts.Username != "" {
		transport = &digest.Transport{
			Username:  opts.Username,
			Password:  opts.Password,
			Transport: transport,
		}
	}
	return &Client{
		opts:   opts,
		client: &http.Client{Transport: transport, Timeout: opts.Timeout},
		logger: logger,
	}
}

// URL resolves an endpoint against the camera address.
func (c *Client) URL(endpoint string) string {
	return BuildURL(c.opts.Host, c.opts.Port, endpoint)
}

// Fetch downloads and parses the extras document at endpoint. Any error means the document is absent.
func (c *Client) Fetch(ctx context.Context, endpoint string) (map[string]interface{}, error) {
	target := c.URL(endpoint)
	safe := RedactURL(target)

	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		status, body, err := c.do(ctx, http.MethodGet, target, nil)
		if err == nil {
			c.logger.Debugf("side channel %s status=%d length=%d", safe, status, len(body))
			switch {
			case status == http.StatusUnauthorized:
				return nil, ErrUnauthorized
			case status != http.StatusOK:
				return nil, errors.Wrapf(ErrUnexpectedStatus, "%s returned %d", safe, status)
			}
			doc, err := ParsePayload(string(body))
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse %s", safe)
			}
			return doc, nil
		}

		lastErr = err
		c.logger.Debugf("side channel request failed (%d/%d) for %s: %v", attempt+1, c.opts.Retries+1, safe, err)
		if attempt >= c.opts.Retries {
			break
		}
		if !goutils.SelectContextOrWait(ctx, c.opts.Backoff*time.Duration(attempt+1)) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// DiscoverOptions selects where Discover looks for the document.
type DiscoverOptions struct {
	// Endpoint, when set, is the only endpoint tried.
	Endpoint string
	// ManualJSON is used when no endpoint produced a document.
	ManualJSON string
}

// Discover finds the extras document and parses it. ok is false when no document was found.
func (c *Client) Discover(ctx context.Context, opts DiscoverOptions) (Set, bool) {
	candidates := CandidateEndpoints
	if opts.Endpoint != "" {
		candidates = []string{opts.Endpoint}
	}
	for _, endpoint := range candidates {
		doc, err := c.Fetch(ctx, endpoint)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				c.logger.Debugf("side channel auth required for %s", endpoint)
			} else {
				c.logger.Debugf("extras endpoint %s did not return valid JSON: %v", endpoint, err)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		c.logger.Debugf("extras discovered at %s", endpoint)
		set := Parse(doc)
		set.Source = SourceHTTP
		set.Endpoint = endpoint
		return set, true
	}

	if opts.ManualJSON != "" {
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(opts.ManualJSON), &doc); err != nil {
			c.logger.Warnf("failed to parse configured extras JSON: %v", err)
			return Set{}, false
		}
		c.logger.Debug("extras loaded from configured JSON")
		set := Parse(doc)
		set.Source = SourceManual
		return set, true
	}
	return Set{}, false
}

// Exec runs a shell command through the exec endpoint. An endpoint containing {cmd} is called with
// GET and the escaped command substituted; any other endpoint receives a JSON POST.
func (c *Client) Exec(ctx context.Context, endpoint, cmd string) error {
	if cmd == "" {
		return errors.New("empty command")
	}
	if endpoint == "" {
		return errors.Errorf("exec endpoint not configured; cannot run %q", cmd)
	}

	var (
		status int
		body   []byte
		err    error
		target string
	)
	if strings.Contains(endpoint, cmdToken) {
		target = c.URL(strings.ReplaceAll(endpoint, cmdToken, escapeCmd(cmd)))
		c.logger.Debugf("exec %q via %s", cmd, RedactURL(target))
		status, body, err = c.do(ctx, http.MethodGet, target, nil)
	} else {
		target = c.URL(endpoint)
		payload, merr := json.Marshal(map[string]string{"cmd": cmd, "exec": cmd})
		if merr != nil {
			return merr
		}
		c.logger.Debugf("exec %q via %s", cmd, RedactURL(target))
		status, body, err = c.do(ctx, http.MethodPost, target, payload)
	}
	if err != nil {
		return errors.Wrapf(err, "exec request failed for %q", cmd)
	}
	if status >= http.StatusBadRequest {
		return errors.Wrapf(ErrUnexpectedStatus, "exec failed (%d) for %q: %s", status, cmd, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, target string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.Auth == AuthBasic && c.opts.Username != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// escapeCmd percent-encodes every reserved character, spaces included, so the command survives
// in either a path or a query.
func escapeCmd(cmd string) string {
	return strings.ReplaceAll(url.QueryEscape(cmd), "+", "%20")
}

// BuildURL resolves endpoint against host and port. Absolute http(s) URLs are returned unchanged.
func BuildURL(host string, port int, endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	hostport := host
	switch {
	case port > 0:
		hostport = net.JoinHostPort(host, strconv.Itoa(port))
	case strings.Contains(host, ":"):
		hostport = "[" + host + "]"
	}
	return "http://" + hostport + endpoint
}

// RedactURL strips credentials from a URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}
