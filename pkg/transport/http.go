package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pkg/errors"

	"github.com/backkem/yubihsm/pkg/message"
)

const (
	// DefaultConnectorURL is where yubihsm-connector listens by default.
	DefaultConnectorURL = "http://127.0.0.1:12345"

	// DefaultHTTPTimeout bounds a single request to the connector.
	DefaultHTTPTimeout = 5 * time.Second

	statusPath = "/connector/status"
	apiPath    = "/connector/api"
)

// HTTPConfig configures the connector adapter. It implements Opener.
type HTTPConfig struct {
	// URL of the connector (default: http://127.0.0.1:12345).
	URL string

	// Timeout for each request (default: 5s).
	Timeout time.Duration

	// Client is an optional pre-configured HTTP client. When set, Timeout
	// is ignored.
	Client *http.Client

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Open builds an HTTPAdapter and checks the connector reports a device.
func (c HTTPConfig) Open(ctx context.Context) (Adapter, error) {
	a, err := NewHTTPAdapter(c)
	if err != nil {
		return nil, err
	}
	status, err := a.Status(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if !status.OK() {
		a.Close()
		return nil, errors.Wrapf(ErrUnhealthy, "status=%s", status.Status)
	}
	return a, nil
}

// ConnectorStatus is the parsed body of the connector status endpoint.
type ConnectorStatus struct {
	Status  string
	Serial  string
	Version string
	Address string
	Port    string
}

// OK reports whether the connector sees a device.
func (s ConnectorStatus) OK() bool {
	return s.Status == "OK"
}

// HTTPAdapter sends messages to a yubihsm-connector over HTTP.
type HTTPAdapter struct {
	base   *url.URL
	client *http.Client
	log    logging.LeveledLogger

	mu     sync.RWMutex
	closed bool
}

// NewHTTPAdapter creates an adapter without contacting the connector.
func NewHTTPAdapter(config HTTPConfig) (*HTTPAdapter, error) {
	raw := config.URL
	if raw == "" {
		raw = DefaultConnectorURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q: %v", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Wrapf(ErrInvalidAddress, "%q: unsupported scheme", raw)
	}

	client := config.Client
	if client == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = DefaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	a := &HTTPAdapter{
		base:   base,
		client: client,
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("transport-http")
	}
	return a, nil
}

func (a *HTTPAdapter) endpoint(path string) string {
	u := *a.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

// Status queries the connector status endpoint.
func (a *HTTPAdapter) Status(ctx context.Context) (ConnectorStatus, error) {
	var status ConnectorStatus
	if a.isClosed() {
		return status, ErrClosed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint(statusPath), nil)
	if err != nil {
		return status, errors.Wrap(err, "transport-http: build status request")
	}
	rsp, err := a.client.Do(req)
	if err != nil {
		return status, errors.Wrap(err, "transport-http: status request")
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		return status, errors.Wrapf(ErrUnhealthy, "HTTP %d", rsp.StatusCode)
	}

	scanner := bufio.NewScanner(io.LimitReader(rsp.Body, 4096))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "status":
			status.Status = value
		case "serial":
			status.Serial = value
		case "version":
			status.Version = value
		case "address":
			status.Address = value
		case "port":
			status.Port = value
		}
	}
	if err := scanner.Err(); err != nil {
		return status, errors.Wrap(err, "transport-http: read status")
	}

	if a.log != nil {
		a.log.Debugf("connector status=%s serial=%s version=%s", status.Status, status.Serial, status.Version)
	}
	return status, nil
}

// IsOpen reports whether the connector answers its status endpoint with
// status=OK.
func (a *HTTPAdapter) IsOpen() bool {
	ctx, cancel := context.WithTimeout(context.Background(), a.client.Timeout+time.Second)
	defer cancel()

	status, err := a.Status(ctx)
	if err != nil {
		if a.log != nil {
			a.log.Warnf("health check failed: %v", err)
		}
		return false
	}
	return status.OK()
}

// SendMessage posts one encoded command and returns the response body.
func (a *HTTPAdapter) SendMessage(ctx context.Context, id uuid.UUID, msg []byte) ([]byte, error) {
	if a.isClosed() {
		return nil, ErrClosed
	}
	if len(msg) > message.MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(apiPath), bytes.NewReader(msg))
	if err != nil {
		return nil, errors.Wrap(err, "transport-http: build request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	if a.log != nil {
		a.log.Debugf("uuid=%s sending %d bytes", id, len(msg))
	}

	rsp, err := a.client.Do(req)
	if err != nil {
		if a.log != nil {
			a.log.Warnf("uuid=%s send failed: %v", id, err)
		}
		return nil, errors.Wrapf(err, "transport-http: uuid=%s", id)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrSendFailed, "uuid=%s: HTTP %d", id, rsp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(rsp.Body, message.MaxMessageSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "transport-http: uuid=%s: read response", id)
	}
	if len(body) > message.MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	if a.log != nil {
		a.log.Debugf("uuid=%s received %d bytes", id, len(body))
	}
	return body, nil
}

// Close marks the adapter closed and drops idle connections.
func (a *HTTPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.client.CloseIdleConnections()
	return nil
}

func (a *HTTPAdapter) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

var _ Adapter = (*HTTPAdapter)(nil)
var _ Opener = HTTPConfig{}
