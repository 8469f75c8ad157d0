package maslow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/maslowctl/alert"
	"github.com/mastercactapus/maslowctl/bridge"
	"github.com/mastercactapus/maslowctl/gcode"
	"github.com/mastercactapus/maslowctl/machine"
)

// Messages raised for link failures.
const (
	MsgReconnectFailed = "Failed to reconnect after multiple attempts"
	MsgLinkError       = "WebSocket connection error"
)

// Config configures a Client.
type Config struct {
	// Bridge configures the event link. Bridge.Logger defaults to Logger.
	Bridge   bridge.Config
	Dispatch DispatchConfig

	TranscriptSize int
	ErrorTimeout   time.Duration

	Logger logrus.FieldLogger
}

// Client connects the event link, the state store, the dispatcher and the
// transient error channel.
type Client struct {
	log     logrus.FieldLogger
	conn    *bridge.Conn
	store   *machine.Store
	router  *Router
	disp    *Dispatcher
	alerts  *alert.Channel
	metrics Metrics

	linkMx    sync.Mutex
	linkAlert string

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	loopDone  chan struct{}
}

func NewClient(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Bridge.Logger == nil {
		cfg.Bridge.Logger = cfg.Logger.WithField("component", "bridge")
	}
	if cfg.Dispatch.Logger == nil {
		cfg.Dispatch.Logger = cfg.Logger.WithField("component", "dispatch")
	}
	if cfg.TranscriptSize <= 0 {
		cfg.TranscriptSize = machine.DefaultTranscriptSize
	}

	c := &Client{
		log:      cfg.Logger,
		conn:     bridge.NewConn(cfg.Bridge),
		store:    machine.NewStore(cfg.TranscriptSize),
		alerts:   alert.New(cfg.ErrorTimeout),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	c.router = NewRouter(c.store, c.conn, cfg.Logger.WithField("component", "router"), &c.metrics)
	c.disp = NewDispatcher(cfg.Dispatch, c.store, &c.metrics)
	return c
}

func (c *Client) Store() *machine.Store { return c.store }
func (c *Client) Alerts() *alert.Channel { return c.alerts }
func (c *Client) Metrics() *Metrics { return &c.metrics }
func (c *Client) LinkMetrics() *bridge.Metrics { return c.conn.Metrics() }
func (c *Client) LinkState() bridge.State { return c.conn.State() }
func (c *Client) Snapshot() machine.Snapshot { return c.store.Snapshot() }
func (c *Client) Dispatcher() *Dispatcher { return c.disp }

// Start runs the event loop and opens the link. A failed first handshake
// is returned, but reconnects continue in the background.
func (c *Client) Start(ctx context.Context) error {
	c.startOnce.Do(func() { go c.loop() })
	return c.conn.Open(ctx)
}

// Reconnect opens the link again after Disconnect or exhaustion.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.Start(ctx)
}

// Disconnect closes the link manually. No reconnect is scheduled.
func (c *Client) Disconnect(reason string) error {
	return c.conn.Close(reason)
}

// Stop closes the link and ends the event loop.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.conn.Shutdown()
		close(c.done)
		c.startOnce.Do(func() { close(c.loopDone) })
		<-c.loopDone
		c.alerts.Clear()
	})
}

func (c *Client) loop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.conn.Events():
			c.handle(ev)
		}
	}
}

func (c *Client) handle(ev bridge.Event) {
	switch ev := ev.(type) {
	case bridge.EventMessage:
		c.router.Route(ev.Frame)
	case bridge.EventOpened:
		c.clearLinkAlert()
	case bridge.EventClosed:
		c.log.WithFields(logrus.Fields{"code": ev.Code, "reason": ev.Reason}).Info("bridge link closed")
	case bridge.EventError:
		if errors.Is(ev.Err, bridge.ErrConnectivityExhausted) {
			c.log.Error("giving up on bridge link")
			c.raiseLinkAlert(MsgReconnectFailed)
			return
		}
		c.raiseLinkAlert(MsgLinkError)
	case bridge.EventStateChanged:
		if ev.From == bridge.Open {
			c.store.ApplyConnectivity(false)
		}
	}
}

func (c *Client) raiseLinkAlert(msg string) {
	c.linkMx.Lock()
	c.linkAlert = msg
	c.linkMx.Unlock()
	c.alerts.Raise(msg)
}

// clearLinkAlert clears the visible error only if it was raised for the link.
func (c *Client) clearLinkAlert() {
	c.linkMx.Lock()
	msg := c.linkAlert
	c.linkAlert = ""
	c.linkMx.Unlock()
	if msg == "" {
		return
	}
	if cur, ok := c.alerts.Current(); ok && cur.Message == msg {
		c.alerts.Clear()
	}
}

// Dispatch clears the visible error, sends in and raises any failure into
// the alert channel.
func (c *Client) Dispatch(ctx context.Context, in Intent) (*Response, error) {
	c.alerts.Clear()
	resp, err := c.disp.Dispatch(ctx, in)
	if err != nil {
		c.alerts.Raise(FailureMessage(in, err))
		return nil, err
	}
	return resp, nil
}

// WaitReady blocks until the machine reports connected.
func (c *Client) WaitReady(ctx context.Context) error {
	ch, cancel := c.store.Subscribe()
	defer cancel()
	for {
		select {
		case snap := <-ch:
			if snap.Connected {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run sends each block of a G-code program as a raw command, in order.
// It stops at the first failure, or at a motion block while the controller
// is in alarm, and returns the number of blocks sent.
func (c *Client) Run(ctx context.Context, program string) (int, error) {
	blocks, err := gcode.Parse(program)
	if err != nil {
		return 0, err
	}
	for i, blk := range blocks {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if blk.HasMotion() && c.store.Snapshot().Alarmed() {
			return i, fmt.Errorf("block %d (%s): %w", i+1, blk, ErrAlarmed)
		}
		_, err := c.Dispatch(ctx, Raw(blk.String()))
		if err != nil {
			return i, err
		}
	}
	return len(blocks), nil
}
