package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"router-fleet/pkg/creds"
	"router-fleet/pkg/model"
)

// RESTChannel is the primary channel: the device's structured HTTP API.
type RESTChannel struct {
	client  *http.Client
	creds   creds.Store
	timeout time.Duration
}

// NewRESTChannel builds the primary channel with a per-call timeout.
func NewRESTChannel(cs creds.Store, timeout time.Duration) *RESTChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RESTChannel{
		client:  &http.Client{Timeout: timeout},
		creds:   cs,
		timeout: timeout,
	}
}

func (c *RESTChannel) Name() string { return string(model.ChannelPrimary) }

// Execute serves get_state via GET /api/v1/state and apply_config via
// POST /api/v1/config. Every failure comes back as a classified *Error.
func (c *RESTChannel) Execute(ctx context.Context, device model.Device, op Operation) (Result, error) {
	if device.APIDisabled {
		return Result{}, newError(KindDisabled, c.Name(), op.Name, fmt.Errorf("device %s: primary API disabled", device.ID))
	}
	secret, err := c.creds.Decrypt(device.CredentialRef)
	if err != nil {
		return Result{}, newError(KindAuth, c.Name(), op.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var req *http.Request
	switch op.Name {
	case OpGetState:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, device.Address+"/api/v1/state", nil)
	case OpApplyConfig:
		body, merr := json.Marshal(map[string]interface{}{"ops": op.Ops})
		if merr != nil {
			return Result{}, newError(KindValidation, c.Name(), op.Name, merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, device.Address+"/api/v1/config", bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		return Result{}, newError(KindUnsupported, c.Name(), op.Name, fmt.Errorf("unknown operation"))
	}
	if err != nil {
		return Result{}, newError(KindValidation, c.Name(), op.Name, err)
	}
	req.Header.Set("X-Api-Key", secret.Reveal())

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, newError(classifyDialError(err), c.Name(), op.Name, err)
	}
	defer resp.Body.Close()

	if kind, bad := classifyStatus(resp.StatusCode); bad {
		return Result{}, newError(kind, c.Name(), op.Name, fmt.Errorf("device %s: http %d", device.ID, resp.StatusCode))
	}

	var state model.DeviceState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return Result{}, newError(KindServer, c.Name(), op.Name, fmt.Errorf("decode response: %w", err))
	}
	state.DeviceID = device.ID
	return Result{State: &state, Channel: model.ChannelPrimary}, nil
}

func classifyDialError(err error) Kind {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	return KindConnection
}

func classifyStatus(code int) (Kind, bool) {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth, true
	case code >= 400 && code < 500:
		return KindValidation, true
	case code >= 500:
		return KindServer, true
	}
	return "", false
}
