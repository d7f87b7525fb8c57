// Package homeassistant talks to the Home Assistant REST API that the
// inverter integration publishes its sensors through.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/lightearth/lightearth-proxy/pkg/common"
	"github.com/lightearth/lightearth-proxy/pkg/log"
	"github.com/lightearth/lightearth-proxy/pkg/metrics"
)

// DefaultEntityTemplate is how the integration names its sensors.
const DefaultEntityTemplate = "sensor.device_{device}_{signal}"

// ErrNotFound is returned when Home Assistant answers 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response from Home Assistant.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("home assistant returned status %d", e.Code)
	}
	return fmt.Sprintf("home assistant returned status %d: %s", e.Code, e.Body)
}

// Is makes a 404 StatusError match ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client is a Home Assistant REST client authenticated with a long-lived
// access token.
type Client struct {
	client         *http.Client
	baseURL        string
	token          string
	retries        int
	backoff        time.Duration
	integration    string
	entityTemplate string
}

var _ Provider = (*Client)(nil)

// New returns a client for the Home Assistant instance at baseURL.
func New(baseURL, token string) *Client {
	return &Client{
		client:         common.HTTPClient(8 * time.Second),
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		token:          token,
		retries:        2,
		backoff:        250 * time.Millisecond,
		integration:    "lumentree",
		entityTemplate: DefaultEntityTemplate,
	}
}

// Configured sets up the client from flags.
func Configured() *Client {
	baseURL := lflag.RequiredString("ha-url", "Base URL of the Home Assistant instance (e.g. http://homeassistant.local:8123)")
	token := lflag.String("ha-token", "", "Home Assistant long-lived access token (defaults to $HA_TOKEN)")
	timeout := lflag.Duration("ha-timeout", 8*time.Second, "Timeout for a single Home Assistant request attempt")
	backoff := lflag.Duration("ha-retry-backoff", 250*time.Millisecond, "Delay before the first retry, growing linearly per attempt")
	retries := 2
	lflag.JSON(&retries, "ha-retries", retries, "Number of retries for failed Home Assistant reads")
	integration := lflag.String("ha-integration", "lumentree", "Integration domain used to add newly approved devices")
	template := lflag.String("ha-entity-template", DefaultEntityTemplate, "Entity id template, {device} and {signal} are substituted")

	c := &Client{}
	lflag.Do(func() {
		*c = *New(*baseURL, *token)
		if c.token == "" {
			c.token = os.Getenv("HA_TOKEN")
		}
		c.client = common.HTTPClient(*timeout)
		c.backoff = *backoff
		c.retries = retries
		c.integration = *integration
		c.entityTemplate = *template
		if c.retries < 0 {
			panic("ha-retries cannot be negative")
		}
		if !strings.Contains(c.entityTemplate, "{device}") || !strings.Contains(c.entityTemplate, "{signal}") {
			panic(fmt.Sprintf("invalid ha-entity-template: %s", c.entityTemplate))
		}
	})
	return c
}

// EntityID fills the entity template. Entity ids are lower-case in Home
// Assistant so the device id is lower-cased.
func (c *Client) EntityID(deviceID, signal string) string {
	return strings.NewReplacer(
		"{device}", strings.ToLower(deviceID),
		"{signal}", signal,
	).Replace(c.entityTemplate)
}

func (c *Client) newRequest(ctx context.Context, method string, path []string, query string, data any) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid home assistant url: %w", err)
	}
	u = u.JoinPath(path...)
	u.RawQuery = query

	var body io.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends a request and decodes a JSON response into dest. Reads are retried
// on network errors and 5xx responses with a linear backoff; writes are sent
// once since config flows are not idempotent.
func (c *Client) do(ctx context.Context, endpoint, method string, path []string, query string, data, dest any) error {
	start := time.Now()
	attempts := 1
	if method == http.MethodGet {
		attempts += c.retries
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if serr := sleep(ctx, c.backoff*time.Duration(attempt-1)); serr != nil {
				err = fmt.Errorf("%w (last error: %w)", serr, err)
				break
			}
		}
		var retry bool
		retry, err = c.attempt(ctx, method, path, query, data, dest)
		if err == nil || !retry {
			break
		}
		log.Ctx(ctx).DebugContext(
			ctx,
			"home assistant request failed",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(err, ErrNotFound) {
			outcome = "not_found"
		}
	}
	metrics.ObserveUpstream(endpoint, outcome, time.Since(start))
	return err
}

func (c *Client) attempt(ctx context.Context, method string, path []string, query string, data, dest any) (bool, error) {
	req, err := c.newRequest(ctx, method, path, query, data)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		// a cancelled context will not get better by retrying
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 256)}
		return resp.StatusCode >= 500, serr
	}
	if dest == nil || len(body) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode home assistant response", slog.Any("error", err), slog.String("body", truncate(string(body), 512)))
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
