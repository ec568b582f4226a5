package switchbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// StatusSuccess is the envelope status code the API uses for success.
const StatusSuccess = 100

const (
	devicesPath      = "/v1.1/devices"
	maxResponseBytes = 1 << 20
)

// Device is one entry of the device list.
type Device struct {
	DeviceID           string `json:"deviceId"`
	DeviceName         string `json:"deviceName"`
	DeviceType         string `json:"deviceType"`
	EnableCloudService bool   `json:"enableCloudService"`
	HubDeviceID        string `json:"hubDeviceId"`
}

// DeviceStatus is the decoded status body of a plug. Raw holds the body
// exactly as the API returned it.
type DeviceStatus struct {
	DeviceID         string  `json:"deviceId"`
	DeviceType       string  `json:"deviceType"`
	HubDeviceID      string  `json:"hubDeviceId"`
	Power            string  `json:"power"`
	Voltage          float64 `json:"voltage"`
	Weight           float64 `json:"weight"`
	ElectricityOfDay float64 `json:"electricityOfDay"`
	ElectricCurrent  float64 `json:"electricCurrent"`
	Version          string  `json:"version"`

	Raw json.RawMessage `json:"-"`
}

// On reports whether the plug relay is closed.
func (s *DeviceStatus) On() bool {
	return s.Power == "on"
}

// Command is the body of a device command request.
type Command struct {
	Command     string `json:"command"`
	Parameter   string `json:"parameter"`
	CommandType string `json:"commandType"`
}

// Plug commands.
var (
	TurnOn  = Command{Command: "turnOn", Parameter: "default", CommandType: "command"}
	TurnOff = Command{Command: "turnOff", Parameter: "default", CommandType: "command"}
	Toggle  = Command{Command: "toggle", Parameter: "default", CommandType: "command"}
)

// envelope is the uniform wrapper around every API response.
type envelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`
}

type deviceListBody struct {
	DeviceList []Device `json:"deviceList"`
}

// Client is a thin HTTP wrapper for the SwitchBot API v1.1.
type Client struct {
	creds   Credentials
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithClock replaces the wall clock used to timestamp signatures.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		creds:   cfg.Credentials(),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListDevices fetches every device registered to the account.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	env, raw, err := c.do(ctx, http.MethodGet, devicesPath, "list", nil)
	if err != nil {
		return nil, err
	}
	if env.StatusCode != StatusSuccess {
		observeRequest("list", outcomeVendorError)
		return nil, &ResolutionError{StatusCode: env.StatusCode, Raw: raw}
	}

	var body deviceListBody
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, &body); err != nil {
			observeRequest("list", outcomeDecodeError)
			return nil, &APIError{Method: http.MethodGet, Path: devicesPath, Err: fmt.Errorf("decode device list: %w", err)}
		}
	}
	observeRequest("list", outcomeOK)
	return body.DeviceList, nil
}

// Status queries the current state of a device.
func (c *Client) Status(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	path := devicePath(deviceID, "status")
	env, raw, err := c.do(ctx, http.MethodGet, path, "status", nil)
	if err != nil {
		return nil, err
	}
	if env.StatusCode != StatusSuccess {
		observeRequest("status", outcomeVendorError)
		return nil, &OperationError{DeviceID: deviceID, StatusCode: env.StatusCode, Raw: raw}
	}

	status := &DeviceStatus{Raw: bodyOrEmpty(env.Body)}
	if err := json.Unmarshal(status.Raw, status); err != nil {
		observeRequest("status", outcomeDecodeError)
		return nil, &APIError{Method: http.MethodGet, Path: path, Err: fmt.Errorf("decode status: %w", err)}
	}
	observeRequest("status", outcomeOK)
	return status, nil
}

// Command sends cmd to a device and returns the response body verbatim.
func (c *Client) Command(ctx context.Context, deviceID string, cmd Command) (json.RawMessage, error) {
	path := devicePath(deviceID, "commands")
	env, raw, err := c.do(ctx, http.MethodPost, path, "command", cmd)
	if err != nil {
		return nil, err
	}
	if env.StatusCode != StatusSuccess {
		observeRequest("command", outcomeVendorError)
		return nil, &OperationError{DeviceID: deviceID, StatusCode: env.StatusCode, Raw: raw}
	}
	observeRequest("command", outcomeOK)
	return bodyOrEmpty(env.Body), nil
}

// do performs one signed request and decodes the envelope. The raw response
// is returned alongside for diagnostics.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body any) (*envelope, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, &APIError{Method: method, Path: path, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	var reqBody io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	Sign(c.creds, c.now()).Apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		observeRequest(endpoint, outcomeTransportError)
		return nil, nil, &APIError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		observeRequest(endpoint, outcomeTransportError)
		return nil, nil, &APIError{Method: method, Path: path, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		observeRequest(endpoint, outcomeHTTPError)
		return nil, raw, &APIError{Method: method, Path: path, HTTPStatus: resp.StatusCode, Body: truncate(raw, 512)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		observeRequest(endpoint, outcomeDecodeError)
		return nil, raw, &APIError{Method: method, Path: path, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	return &env, raw, nil
}

func devicePath(deviceID, action string) string {
	return devicesPath + "/" + url.PathEscape(deviceID) + "/" + action
}

func bodyOrEmpty(b json.RawMessage) json.RawMessage {
	if len(b) == 0 || string(b) == "null" {
		return json.RawMessage("{}")
	}
	return b
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
