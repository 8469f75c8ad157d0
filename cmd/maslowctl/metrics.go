package main

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mastercactapus/maslowctl/bridge"
	"github.com/mastercactapus/maslowctl/machine/maslow"
)

const metricsNamespace = "maslowctl"

func counter(name, help string, v *atomic.Uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(v.Load()) })
}

// newMetricsHandler registers the link and dispatch counters on a fresh
// registry and returns its /metrics handler.
func newMetricsHandler(link *bridge.Metrics, m *maslow.Metrics) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		counter("link_frames_sent_total", "Frames written to the bridge link.", &link.FramesSent),
		counter("link_frames_received_total", "Frames read from the bridge link.", &link.FramesRecv),
		counter("link_protocol_violations_total", "Malformed frames dropped.", &link.ProtocolViolations),
		counter("link_pings_sent_total", "Liveness probes sent.", &link.PingsSent),
		counter("link_pongs_received_total", "Liveness responses received.", &link.PongsRecv),
		counter("link_reconnect_attempts_total", "Reconnect dials after a drop.", &link.ReconnectAttempts),
		counter("link_exhausted_total", "Times the reconnect bound was exceeded.", &link.Exhausted),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "link_state",
			Help:      "Link state: 0 disconnected, 1 connecting, 2 open, 3 reconnecting, 4 failed.",
		}, func() float64 { return float64(link.State.Load()) }),

		counter("status_updates_total", "Status snapshots applied.", &m.StatusUpdates),
		counter("traffic_entries_total", "Serial traffic entries recorded.", &m.TrafficEntries),
		counter("unrecognized_frames_total", "Frames of unknown type.", &m.Unrecognized),
		counter("controller_faults_total", "Controller error and alarm lines.", &m.ControllerFaults),
		counter("dispatch_total", "Intents dispatched.", &m.Dispatched),
		counter("dispatch_succeeded_total", "Intents the bridge accepted.", &m.Succeeded),
		counter("dispatch_not_ready_total", "Intents refused while not connected.", &m.NotReady),
		counter("dispatch_busy_total", "Intents refused while another was in flight.", &m.Busy),
		counter("dispatch_transport_errors_total", "Intents that failed in transport or at the bridge.", &m.TransportErrors),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
