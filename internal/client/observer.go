package client

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/docker/go-units"
	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/tftpc/internal/common"
)

type EventKind int

const (
	EventTransferStarted EventKind = iota
	EventPacketSent
	EventPacketReceived
	EventPeerPinned
	EventRetransmit
	EventStrayPacket
	EventDuplicate
	EventUnexpectedBlock
	EventTransferCompleted
	EventTransferFailed
)

// Event describes one step of a transfer. Fields that do not apply to a kind
// are left zero.
type Event struct {
	Kind       EventKind
	TransferID string
	Direction  Direction
	Filename   string
	Mode       string
	Opcode     common.Opcode
	Block      uint16
	Length     int
	Peer       *net.UDPAddr
	Attempt    int
	Result     *Result
	Err        error
}

type Observer interface {
	Observe(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

var NopObserver Observer = nopObserver{}

type multiObserver []Observer

func (m multiObserver) Observe(ev Event) {
	for _, o := range m {
		o.Observe(ev)
	}
}

// MultiObserver fans every event out to each non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

// Recorder keeps every event it observes. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// LogObserver prints transfer progress through logrus. Packet details go to
// Info in verbose mode and to Debug in quiet mode.
type LogObserver struct {
	logger  *log.Logger
	verbose atomic.Bool
}

func NewLogObserver(logger *log.Logger, verbose bool) *LogObserver {
	if logger == nil {
		logger = log.StandardLogger()
	}
	o := &LogObserver{logger: logger}
	o.verbose.Store(verbose)
	return o
}

func (o *LogObserver) Verbose() bool {
	return o.verbose.Load()
}

func (o *LogObserver) SetVerbose(verbose bool) {
	o.verbose.Store(verbose)
}

// Toggle flips between verbose and quiet and returns the new setting.
func (o *LogObserver) Toggle() bool {
	for {
		old := o.verbose.Load()
		if o.verbose.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (o *LogObserver) Observe(ev Event) {
	entry := o.logger.WithFields(log.Fields{
		"Transfer": ev.TransferID,
		"File":     ev.Filename,
	})
	if ev.Peer != nil {
		entry = entry.WithField("Peer", ev.Peer.String())
	}

	switch ev.Kind {
	case EventTransferStarted:
		entry.WithField("Direction", ev.Direction).Info("Starting transfer")
	case EventPacketSent, EventPacketReceived:
		o.packet(entry, ev)
	case EventPeerPinned:
		entry.Debug("Pinned transfer peer")
	case EventRetransmit:
		entry.WithFields(log.Fields{
			"Block":   ev.Block,
			"Attempt": ev.Attempt,
		}).Warn("Timed out, retransmitting last packet")
	case EventStrayPacket:
		entry.Warn("Ignoring datagram from unknown transfer ID")
	case EventDuplicate:
		entry.WithField("Block", ev.Block).Info("Ignoring duplicate packet")
	case EventUnexpectedBlock:
		entry.WithField("Block", ev.Block).Warn("Ignoring packet with unexpected block number")
	case EventTransferCompleted:
		if ev.Result == nil {
			entry.Info("Transfer complete")
			return
		}
		entry.WithFields(log.Fields{
			"Size":     units.HumanSize(float64(ev.Result.Bytes)),
			"Blocks":   ev.Result.Blocks,
			"Duration": ev.Result.Duration,
		}).Info("Transfer complete")
	case EventTransferFailed:
		entry.WithError(ev.Err).Error("Transfer failed")
	}
}

func (o *LogObserver) packet(entry *log.Entry, ev Event) {
	msg := "Sent packet"
	if ev.Kind == EventPacketReceived {
		msg = "Received packet"
	}

	fields := log.Fields{"Type": ev.Opcode}
	switch ev.Opcode {
	case common.RRQ, common.WRQ:
		fields["Filename"] = ev.Filename
		fields["Mode"] = ev.Mode
	case common.DATA:
		fields["Block"] = ev.Block
		fields["Length"] = ev.Length
	case common.ACK:
		fields["Block"] = ev.Block
	}

	if o.Verbose() {
		entry.WithFields(fields).Info(msg)
	} else {
		entry.WithFields(fields).Debug(msg)
	}
}
