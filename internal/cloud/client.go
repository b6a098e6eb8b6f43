package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nerrad567/geeny-gateway/internal/infrastructure/config"
)

// Host selects one of the two REST endpoints.
type Host int

// REST hosts.
const (
	HostConnect Host = iota
	HostThingManager
)

func (h Host) String() string {
	if h == HostThingManager {
		return "thing_manager"
	}
	return "connect"
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxFailures    = 5
	defaultBreakerTimeout = 30 * time.Second

	maxResponseBytes = 1 << 20
)

// errServerStatus marks 5xx responses so they count against the breaker.
var errServerStatus = errors.New("server error status")

// Response is a raw REST response.
type Response struct {
	Status int
	Body   []byte
}

// Client posts JSON to the cloud REST hosts through a circuit breaker.
// It is safe for concurrent use.
type Client struct {
	hosts   map[Host]string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*Response]
	logger  Logger
}

// NewClient creates a Client from the cloud configuration. A nil logger
// discards output.
func NewClient(cfg config.CloudConfig, logger Logger) (*Client, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	connect := strings.TrimRight(cfg.Hosts.ConnectURL, "/")
	manager := strings.TrimRight(cfg.Hosts.ThingManagerURL, "/")
	if connect == "" || manager == "" {
		return nil, fmt.Errorf("%w: both REST hosts are required", ErrInvalidRequest)
	}

	timeout := time.Duration(cfg.Hosts.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	maxFailures := uint32(defaultMaxFailures)
	if cfg.CircuitBreaker.MaxFailures > 0 {
		maxFailures = uint32(cfg.CircuitBreaker.MaxFailures) // #nosec G115 -- checked positive
	}
	openFor := time.Duration(cfg.CircuitBreaker.Timeout) * time.Second
	if openFor <= 0 {
		openFor = defaultBreakerTimeout
	}

	c := &Client{
		hosts: map[Host]string{
			HostConnect:      connect,
			HostThingManager: manager,
		},
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "cloud",
		MaxRequests: 1,
		Interval:    time.Duration(cfg.CircuitBreaker.Interval) * time.Second,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return c, nil
}

// State returns the circuit breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Post sends body as JSON to path on host. A non-empty token is sent as a
// JWT authorization header. Any HTTP status is returned as a Response;
// errors are reserved for transport failures and an open breaker.
func (c *Client) Post(ctx context.Context, host Host, path, token string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding body: %w", ErrInvalidRequest, err)
	}

	url := c.hosts[host] + path
	resp, err := c.breaker.Execute(func() (*Response, error) {
		return c.do(ctx, url, token, payload)
	})
	switch {
	case errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	case err != nil:
		return nil, err
	}

	c.logger.Debug("cloud request", "host", host.String(), "path", path, "status", resp.Status)
	return resp, nil
}

func (c *Client) do(ctx context.Context, url, token string, payload []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "JWT "+token)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting %s: %w", url, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	resp := &Response{Status: httpResp.StatusCode, Body: data}
	if resp.Status >= http.StatusInternalServerError {
		return resp, fmt.Errorf("%w: %d", errServerStatus, resp.Status)
	}
	return resp, nil
}

// decode unmarshals a response body, mapping failures to ErrInvalidJSON.
func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	return nil
}
