package maslow

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/maslowctl/bridge"
	"github.com/mastercactapus/maslowctl/machine"
)

// Link is the part of the bridge connection the Router needs.
type Link interface {
	State() bridge.State
	Send(v interface{}) bool
}

// Router folds inbound frames into a Store.
type Router struct {
	store   *machine.Store
	link    Link
	log     logrus.FieldLogger
	metrics *Metrics
}

func NewRouter(store *machine.Store, link Link, log logrus.FieldLogger, metrics *Metrics) *Router {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Router{store: store, link: link, log: log, metrics: metrics}
}

// Route applies a single frame. Frames must be routed in arrival order.
func (r *Router) Route(f bridge.Frame) {
	// traffic is recorded before any state is folded
	switch f := f.(type) {
	case bridge.SerialResponse:
		r.traffic(machine.Received, f.Data, f.Timestamp)
		r.inspect(f.Data)
	case bridge.CommandSent:
		r.traffic(machine.Sent, f.Command, f.Timestamp)
	}

	switch f := f.(type) {
	case bridge.StatusUpdate:
		r.metrics.StatusUpdates.Add(1)
		r.store.ApplyStatus(f.Status)
	case bridge.ConnectionStatus:
		if r.store.ApplyConnectivity(f.Connected) {
			r.log.WithField("connected", f.Connected).Info("machine connectivity changed")
		}
		if r.link.State() == bridge.Open && !r.link.Send(bridge.RequestStatus) {
			r.log.Warn("request status: send failed")
		}
	case bridge.Pong:
		r.log.Debug("pong")
	case bridge.Unrecognized:
		r.metrics.Unrecognized.Add(1)
		r.log.WithField("type", f.Kind).Warn("unrecognized frame")
	}
}

func (r *Router) traffic(dir machine.Direction, payload string, ts float64) {
	if ts == 0 {
		ts = machine.Timestamp(time.Now())
	}
	r.metrics.TrafficEntries.Add(1)
	r.store.AppendTraffic(machine.TrafficEntry{Timestamp: ts, Direction: dir, Payload: payload})
}

func (r *Router) inspect(data string) {
	l, err := parseLine(data)
	if err != nil {
		r.log.WithError(err).WithField("line", data).Debug("parse controller line")
		return
	}
	switch l.kind {
	case lineError:
		r.metrics.ControllerFaults.Add(1)
		r.log.WithField("code", l.code).Warn("controller error")
	case lineAlarm:
		r.metrics.ControllerFaults.Add(1)
		r.log.WithField("code", l.code).Warn("controller alarm")
	case lineStatus:
		r.log.WithFields(logrus.Fields{
			"status":   l.status,
			"position": l.position,
			"feed":     l.feed,
			"spindle":  l.spindle,
		}).Trace("controller report")
	}
}
