// Package metrics counts transfer events in Prometheus form.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Pablu23/tftpc/internal/client"
)

// Collector is a client.Observer backed by its own registry, so several
// collectors can live in one process.
type Collector struct {
	registry *prometheus.Registry

	packetsSent      *prometheus.CounterVec
	packetsReceived  *prometheus.CounterVec
	retransmits      prometheus.Counter
	strayPackets     prometheus.Counter
	transfers        *prometheus.CounterVec
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tftpc_packets_sent_total",
			Help: "Packets sent, by opcode",
		}, []string{"opcode"}),
		packetsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tftpc_packets_received_total",
			Help: "Packets accepted from the transfer peer, by opcode",
		}, []string{"opcode"}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tftpc_retransmits_total",
			Help: "Packets resent after a receive timeout",
		}),
		strayPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tftpc_stray_packets_total",
			Help: "Datagrams from hosts other than the transfer peer",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tftpc_transfers_total",
			Help: "Finished transfers, by direction and result",
		}, []string{"direction", "result"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tftpc_transfer_bytes_total",
			Help: "File bytes moved by successful transfers",
		}, []string{"direction"}),
		transferDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tftpc_transfer_duration_seconds",
			Help:    "Time taken by successful transfers",
			Buckets: prometheus.DefBuckets,
		}, []string{"direction"}),
	}

	c.registry.MustRegister(
		c.packetsSent,
		c.packetsReceived,
		c.retransmits,
		c.strayPackets,
		c.transfers,
		c.transferBytes,
		c.transferDuration,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Observe(ev client.Event) {
	switch ev.Kind {
	case client.EventPacketSent:
		c.packetsSent.WithLabelValues(ev.Opcode.String()).Inc()
	case client.EventPacketReceived:
		c.packetsReceived.WithLabelValues(ev.Opcode.String()).Inc()
	case client.EventRetransmit:
		c.retransmits.Inc()
	case client.EventStrayPacket:
		c.strayPackets.Inc()
	case client.EventTransferCompleted:
		direction := ev.Direction.String()
		c.transfers.WithLabelValues(direction, "success").Inc()
		if ev.Result != nil {
			c.transferBytes.WithLabelValues(direction).Add(float64(ev.Result.Bytes))
			c.transferDuration.WithLabelValues(direction).Observe(ev.Result.Duration.Seconds())
		}
	case client.EventTransferFailed:
		c.transfers.WithLabelValues(ev.Direction.String(), "failure").Inc()
	}
}

// WriteTextfile dumps the registry in the node exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
