package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	// ErrConnectivityExhausted is reported once the reconnect bound is exceeded.
	ErrConnectivityExhausted = errors.New("failed to reconnect after multiple attempts")
	// ErrClosed is returned to Open callers when Close interrupts the handshake.
	ErrClosed = errors.New("connection closed")
	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("connection shut down")
)

// Config configures a Conn. Zero values take the defaults noted on each field.
type Config struct {
	// URL of the bridge websocket endpoint, e.g. ws://localhost:8003/ws.
	URL    string
	Header http.Header

	// BaseDelay is the first reconnect delay (1s).
	BaseDelay time.Duration
	// MaxDelay caps the reconnect delay (30s).
	MaxDelay time.Duration
	// MaxAttempts is the number of reconnect attempts before Failed (5).
	MaxAttempts int
	// PingInterval is the liveness probe interval (30s).
	PingInterval time.Duration
	// HandshakeTimeout bounds each dial (10s).
	HandshakeTimeout time.Duration
	// EventBuffer is the capacity of the Events channel (256).
	EventBuffer int

	Logger logrus.FieldLogger
}

func (cfg Config) withDefaults() Config {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.InfoLevel)
		cfg.Logger = l
	}
	return cfg
}

type reqOp int

const (
	reqOpen reqOp = iota
	reqClose
)

type request struct {
	op     reqOp
	reason string
	result chan error
}

type dialResult struct {
	gen int
	ws  *websocket.Conn
	err error
}

type readResult struct {
	ws  *websocket.Conn
	err error
}

// Conn is a reconnecting websocket link to the bridge.
//
// A single scheduler goroutine owns the state machine, the retry timer and
// the heartbeat ticker. Inbound frames are delivered on Events in the order
// they were read.
type Conn struct {
	cfg     Config
	log     logrus.FieldLogger
	dialer  *websocket.Dialer
	metrics Metrics

	events   chan Event
	reqs     chan request
	dialed   chan dialResult
	readDone chan readResult
	done     chan struct{}
	stopOnce sync.Once

	mx    sync.RWMutex
	state State
	ws    *websocket.Conn

	wMx sync.Mutex

	// owned by loop
	m          fsm
	gen        int
	cancelDial context.CancelFunc
	retry      *time.Timer
	ping       *time.Ticker
	waiting    []chan error
}

// NewConn creates a Conn in the Disconnected state. Nothing is dialed until Open.
func NewConn(cfg Config) *Conn {
	cfg = cfg.withDefaults()
	c := &Conn{
		cfg: cfg,
		log: cfg.Logger.WithField("url", cfg.URL),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		events:   make(chan Event, cfg.EventBuffer),
		reqs:     make(chan request),
		dialed:   make(chan dialResult),
		readDone: make(chan readResult),
		done:     make(chan struct{}),
		m: fsm{
			base:        cfg.BaseDelay,
			max:         cfg.MaxDelay,
			maxAttempts: cfg.MaxAttempts,
		},
	}
	go c.loop()
	return c
}

// Events returns the event stream. It must be drained; the scheduler
// blocks while the buffer is full.
func (c *Conn) Events() <-chan Event { return c.events }

// Metrics returns the live counters for c.
func (c *Conn) Metrics() *Metrics { return &c.metrics }

// State returns the current connection state.
func (c *Conn) State() State {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return c.state
}

// Open starts connecting and waits for the handshake to finish. A failed
// handshake returns its error and leaves a reconnect scheduled. Calling
// Open while already open is a no-op; from Failed it starts over with a
// fresh attempt counter.
func (c *Conn) Open(ctx context.Context) error {
	return c.do(ctx, request{op: reqOpen})
}

// Close closes the link with a normal closure. Pending reconnects are
// cancelled and none are scheduled.
func (c *Conn) Close(reason string) error {
	return c.do(context.Background(), request{op: reqClose, reason: reason})
}

// Shutdown closes the link and stops the scheduler. c cannot be reused.
func (c *Conn) Shutdown() {
	c.Close("shutdown")
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Conn) do(ctx context.Context, req request) error {
	req.result = make(chan error, 1)
	select {
	case c.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrShutdown
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrShutdown
	}
}

// Send writes v as a JSON text frame. It returns false if the link is not
// Open or the write fails.
func (c *Conn) Send(v interface{}) bool {
	c.mx.RLock()
	ws, state := c.ws, c.state
	c.mx.RUnlock()
	if state != Open || ws == nil {
		c.log.WithField("state", state).Debug("send while not open")
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.log.WithError(err).Error("marshal outbound frame")
		return false
	}

	c.wMx.Lock()
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.wMx.Unlock()
	if err != nil {
		c.log.WithError(err).Warn("send failed")
		return false
	}
	c.metrics.FramesSent.Add(1)
	return true
}

func (c *Conn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Conn) setState(s State) {
	c.mx.Lock()
	prev := c.state
	c.state = s
	c.mx.Unlock()
	if prev == s {
		return
	}
	c.metrics.State.Store(int32(s))
	c.log.WithFields(logrus.Fields{"from": prev, "to": s}).Debug("state change")
	c.emit(EventStateChanged{From: prev, To: s})
}

func (c *Conn) setWS(ws *websocket.Conn) {
	c.mx.Lock()
	c.ws = ws
	c.mx.Unlock()
}

func (c *Conn) loop() {
	for {
		var retryC, pingC <-chan time.Time
		if c.retry != nil {
			retryC = c.retry.C
		}
		if c.ping != nil {
			pingC = c.ping.C
		}

		select {
		case <-c.done:
			c.stopTimers()
			if c.cancelDial != nil {
				c.cancelDial()
			}
			return
		case req := <-c.reqs:
			switch req.op {
			case reqOpen:
				c.handleOpen(req)
			case reqClose:
				c.handleClose(req)
			}
		case res := <-c.dialed:
			c.handleDial(res)
		case res := <-c.readDone:
			c.handleReadDone(res)
		case <-retryC:
			c.retry = nil
			if c.m.retry() {
				c.metrics.ReconnectAttempts.Add(1)
				c.setState(Connecting)
				c.dial()
			}
		case <-pingC:
			if c.Send(Ping) {
				c.metrics.PingsSent.Add(1)
			}
		}
	}
}

func (c *Conn) handleOpen(req request) {
	if c.m.state == Open {
		req.result <- nil
		return
	}
	c.waiting = append(c.waiting, req.result)
	if c.m.state == Connecting {
		return
	}

	wasReconnecting := c.m.state == Reconnecting
	if !c.m.open() {
		return
	}
	if wasReconnecting {
		c.stopRetry()
		c.metrics.ReconnectAttempts.Add(1)
	}
	c.setState(Connecting)
	c.dial()
}

func (c *Conn) handleClose(req request) {
	c.stopTimers()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	// discard any dial still in flight
	c.gen++

	wasOpen := c.m.state == Open
	c.mx.RLock()
	ws := c.ws
	c.mx.RUnlock()
	if ws != nil {
		c.setWS(nil)
		c.wMx.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, req.reason)
		err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.wMx.Unlock()
		if err != nil {
			c.log.WithError(err).Debug("write close frame")
		}
		ws.Close()
	}

	c.m.close()
	c.setState(Disconnected)
	c.notifyWaiting(ErrClosed)
	if wasOpen {
		c.log.WithField("reason", req.reason).Info("closed")
		c.emit(EventClosed{Code: websocket.CloseNormalClosure, Reason: req.reason})
	}
	req.result <- nil
}

func (c *Conn) dial() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	gen := c.gen
	c.log.WithField("attempt", c.m.attempt).Info("connecting")
	go func() {
		defer cancel()
		ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		select {
		case c.dialed <- dialResult{gen: gen, ws: ws, err: err}:
		case <-c.done:
			if ws != nil {
				ws.Close()
			}
		}
	}()
}

func (c *Conn) handleDial(res dialResult) {
	if res.gen != c.gen {
		if res.ws != nil {
			res.ws.Close()
		}
		return
	}
	c.cancelDial = nil

	if res.err != nil {
		c.log.WithError(res.err).Warn("connect failed")
		c.emit(EventError{Err: res.err})
		c.drop(websocket.CloseAbnormalClosure)
		c.notifyWaiting(res.err)
		return
	}

	c.setWS(res.ws)
	c.m.opened()
	c.setState(Open)
	c.log.Info("connected")
	c.emit(EventOpened{})

	if c.Send(Ping) {
		c.metrics.PingsSent.Add(1)
	}
	c.ping = time.NewTicker(c.cfg.PingInterval)
	go c.readLoop(res.ws)
	c.notifyWaiting(nil)
}

func (c *Conn) handleReadDone(res readResult) {
	c.mx.RLock()
	current := c.ws
	c.mx.RUnlock()
	if res.ws != current {
		// already closed by us
		return
	}
	c.setWS(nil)
	res.ws.Close()
	c.stopPing()

	code, reason := closeCode(res.err)
	c.log.WithFields(logrus.Fields{"code": code, "reason": reason}).Warn("disconnected")
	c.emit(EventClosed{Code: code, Reason: reason})
	c.drop(code)
}

func (c *Conn) drop(code int) {
	next, delay := c.m.dropped(code)
	c.setState(next)
	switch next {
	case Reconnecting:
		c.log.WithField("delay", delay).Info("reconnecting")
		c.retry = time.NewTimer(delay)
	case Failed:
		c.metrics.Exhausted.Add(1)
		c.log.WithField("attempts", c.m.attempt).Error("giving up reconnecting")
		c.emit(EventError{Err: ErrConnectivityExhausted})
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case c.readDone <- readResult{ws: ws, err: err}:
			case <-c.done:
			}
			return
		}
		c.metrics.FramesRecv.Add(1)
		c.log.WithField("frame", string(data)).Trace("recv")

		f, err := DecodeFrame(data)
		if err != nil {
			c.metrics.ProtocolViolations.Add(1)
			c.log.WithError(err).Warn("dropping frame")
			continue
		}
		if _, ok := f.(Pong); ok {
			c.metrics.PongsRecv.Add(1)
		}

		c.mx.RLock()
		live := c.ws == ws
		c.mx.RUnlock()
		if !live {
			return
		}
		c.emit(EventMessage{Frame: f})
	}
}

func (c *Conn) notifyWaiting(err error) {
	for _, ch := range c.waiting {
		ch <- err
	}
	c.waiting = nil
}

func (c *Conn) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Conn) stopPing() {
	if c.ping != nil {
		c.ping.Stop()
		c.ping = nil
	}
}

func (c *Conn) stopTimers() {
	c.stopRetry()
	c.stopPing()
}

func closeCode(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
