package maslow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/maslowctl/machine"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-Id"

const maxResponseSize = 1 << 20

// DispatchConfig configures a Dispatcher.
type DispatchConfig struct {
	// BaseURL of the bridge HTTP API, without the /api prefix.
	BaseURL string
	// Timeout bounds each request (30s). Raw commands get their wait time added.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// StateSource provides the snapshot used for readiness checks.
type StateSource interface {
	Snapshot() machine.Snapshot
}

// Response is the decoded body of a bridge API reply.
type Response struct {
	Success     bool                   `json:"success"`
	Message     string                 `json:"message,omitempty"`
	Responses   []string               `json:"responses,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
	Files       []FileInfo             `json:"files,omitempty"`
	Detail      string                 `json:"detail,omitempty"`

	// Raw is the undecoded body.
	Raw json.RawMessage `json:"-"`
	// RequestID is the X-Request-Id sent with the request.
	RequestID string `json:"-"`
}

// FileInfo describes a G-code program stored on the bridge.
type FileInfo struct {
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
}

// Status decodes a ReadStatus reply.
func (r *Response) Status() (machine.Snapshot, error) {
	snap := machine.InitialSnapshot()
	if len(r.Raw) == 0 {
		return snap, fmt.Errorf("empty status response")
	}
	err := json.Unmarshal(r.Raw, &snap)
	return snap, err
}

// Dispatcher sends intents to the bridge HTTP API. Each resource allows one
// request in flight; a second is refused with ErrBusy. Nothing is retried.
type Dispatcher struct {
	cfg      DispatchConfig
	client   *http.Client
	state    StateSource
	log      logrus.FieldLogger
	metrics  *Metrics
	inflight *xsync.MapOf[string, string]
}

func NewDispatcher(cfg DispatchConfig, state StateSource, metrics *Metrics) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Dispatcher{
		cfg:      cfg,
		client:   cfg.HTTPClient,
		state:    state,
		log:      cfg.Logger,
		metrics:  metrics,
		inflight: xsync.NewMapOf[string, string](),
	}
}

// InFlight returns the request id holding resource, if any.
func (d *Dispatcher) InFlight(resource string) (string, bool) {
	return d.inflight.Load(resource)
}

// Dispatch validates in, checks readiness and resource gating, then sends
// it. Failures are returned as *CommandError.
func (d *Dispatcher) Dispatch(ctx context.Context, in Intent) (*Response, error) {
	d.metrics.Dispatched.Add(1)
	if err := in.Validate(); err != nil {
		return nil, &CommandError{Intent: in.Kind, Err: ErrInvalidIntent, Cause: err}
	}

	if in.Readiness() == RequireConnected && !d.state.Snapshot().Connected {
		d.metrics.NotReady.Add(1)
		return nil, &CommandError{Intent: in.Kind, Err: ErrNotReady}
	}

	id := uuid.NewString()
	log := d.log.WithFields(logrus.Fields{"intent": in.Kind, "request_id": id})
	if res := in.Resource(); res != "" {
		if holder, busy := d.inflight.LoadOrStore(res, id); busy {
			d.metrics.Busy.Add(1)
			log.WithFields(logrus.Fields{"resource": res, "holder": holder}).Debug("resource busy")
			return nil, &CommandError{Intent: in.Kind, Err: ErrBusy}
		}
		defer d.inflight.Delete(res)
	}

	if blk, ok := in.GCode(); ok {
		log = log.WithField("gcode", blk.String())
	}
	if target, ok := in.Target(d.state.Snapshot().Position); ok {
		log = log.WithField("target", target)
	}
	log.Debug("dispatch")

	resp, err := d.send(ctx, in, id)
	if err != nil {
		d.metrics.TransportErrors.Add(1)
		log.WithError(err).Warn("dispatch failed")
		return nil, err
	}
	d.metrics.Succeeded.Add(1)
	return resp, nil
}

func (d *Dispatcher) send(ctx context.Context, in Intent, id string) (*Response, error) {
	transportErr := func(cause error) error {
		return &CommandError{Intent: in.Kind, Err: ErrTransport, Cause: cause}
	}

	timeout := d.cfg.Timeout
	if in.Kind == KindRawCommand {
		timeout += time.Duration(in.WaitTime * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, contentType, err := in.encode()
	if err != nil {
		return nil, transportErr(err)
	}

	req, err := http.NewRequestWithContext(ctx, in.Method(), d.cfg.BaseURL+"/api"+in.Path(), body)
	if err != nil {
		return nil, transportErr(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, id)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	httpResp, err := d.client.Do(req)
	if err != nil {
		return nil, transportErr(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, transportErr(err)
	}

	resp := &Response{Raw: data, RequestID: id}
	decodeErr := json.Unmarshal(data, resp)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		detail := resp.Detail
		if decodeErr != nil || detail == "" {
			detail = fmt.Sprintf("HTTP %d", httpResp.StatusCode)
		}
		return nil, &CommandError{Intent: in.Kind, Err: ErrTransport, Status: httpResp.StatusCode, Detail: detail}
	}
	if decodeErr != nil {
		return nil, transportErr(fmt.Errorf("decode response: %w", decodeErr))
	}
	return resp, nil
}
