package client

import (
	"hash"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/kelindar/bitmap"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/crypto/blake2b"

	"github.com/Pablu23/tftpc/internal/common"
)

// transfer holds the state of one read or write transfer. It lives exactly as
// long as the ReadFile or WriteFile call that created it.
type transfer struct {
	options   *Options
	direction Direction
	filename  string
	server    *net.UDPAddr

	channel Channel
	// pinned is the peer learned from the first reply; nil until then.
	pinned *net.UDPAddr

	last   []byte
	lastTo *net.UDPAddr
	buf    []byte
	// attempts counts timeouts since the awaited block last advanced.
	attempts int

	digest  hash.Hash
	started time.Time
	result  *Result
}

func (client *Client) newTransfer(direction Direction, filename string) *transfer {
	digest, _ := blake2b.New256(nil)

	t := &transfer{
		options:   client.options,
		direction: direction,
		filename:  filename,
		server:    client.server,
		// one spare byte so oversized datagrams are not silently truncated to a valid size
		buf:     make([]byte, common.MaxPacketSize+1),
		digest:  digest,
		started: time.Now(),
		result: &Result{
			TransferID: uuid.NewString(),
			Filename:   filename,
			Direction:  direction,
		},
	}

	t.observe(Event{Kind: EventTransferStarted, Peer: client.server})
	return t
}

func (t *transfer) observe(ev Event) {
	ev.TransferID = t.result.TransferID
	ev.Direction = t.direction
	ev.Filename = t.filename
	t.options.Observer.Observe(ev)
}

func (t *transfer) open() error {
	ch, err := t.options.OpenChannel()
	if err != nil {
		var chErr *ChannelError
		if errors.As(err, &chErr) {
			return err
		}
		return &ChannelError{Op: "open", Err: err}
	}
	t.channel = ch
	return nil
}

func (t *transfer) close() error {
	if t.channel == nil {
		return nil
	}
	ch := t.channel
	t.channel = nil
	if err := ch.Close(); err != nil {
		return &ChannelError{Op: "close", Err: err}
	}
	return nil
}

func (t *transfer) fail(err error) error {
	err = errors.Wrapf(err, "%s transfer of %q", t.direction, t.filename)
	t.observe(Event{Kind: EventTransferFailed, Peer: t.pinned, Err: err})
	return err
}

func (t *transfer) complete() *Result {
	t.result.Digest = t.digest.Sum(nil)
	t.result.Duration = time.Since(t.started)
	t.observe(Event{Kind: EventTransferCompleted, Peer: t.pinned, Result: t.result})
	return t.result
}

func (t *transfer) destination() *net.UDPAddr {
	if t.pinned != nil {
		return t.pinned
	}
	return t.server
}

func (t *transfer) pin(peer *net.UDPAddr) {
	if t.pinned != nil {
		return
	}
	t.pinned = peer
	t.result.Peer = peer
	t.observe(Event{Kind: EventPeerPinned, Peer: peer})
}

// send transmits raw to the current destination and remembers it for
// retransmission.
func (t *transfer) send(raw []byte, ev Event) error {
	t.last = raw
	t.lastTo = t.destination()
	return t.transmit(raw, ev)
}

// transmit sends raw without replacing the packet kept for retransmission.
func (t *transfer) transmit(raw []byte, ev Event) error {
	to := t.destination()
	if err := t.channel.Send(raw, to); err != nil {
		return &ChannelError{Op: "send", Err: err}
	}

	ev.Kind = EventPacketSent
	ev.Peer = to
	t.observe(ev)
	return nil
}

func (t *transfer) sendRequest(op common.Opcode) error {
	raw, err := common.EncodeRequest(op, t.filename, t.options.Mode)
	if err != nil {
		return err
	}
	return t.send(raw, Event{Opcode: op, Mode: t.options.Mode})
}

// receive waits for the next datagram from the pinned peer. Datagrams from
// anyone else are answered with an ERROR and dropped. Each timeout
// retransmits the last packet until the retry budget is spent. Only advance
// restores the budget.
func (t *transfer) receive(block uint16) ([]byte, *net.UDPAddr, error) {
	for {
		n, from, err := t.channel.Receive(t.buf, t.options.Timeout)
		if errors.Is(err, ErrReceiveTimeout) {
			t.attempts++
			if t.attempts > t.options.Retries {
				return nil, nil, &TimeoutError{Block: block, Attempts: t.attempts, Timeout: t.options.Timeout}
			}

			t.result.Retransmits++
			t.observe(Event{Kind: EventRetransmit, Block: block, Attempt: t.attempts, Peer: t.lastTo})
			if err := t.channel.Send(t.last, t.lastTo); err != nil {
				return nil, nil, &ChannelError{Op: "send", Err: err}
			}
			continue
		}
		if err != nil {
			return nil, nil, &ReceiveError{Err: err}
		}

		if t.pinned != nil && !sameAddr(from, t.pinned) {
			t.observe(Event{Kind: EventStrayPacket, Peer: from, Length: n})
			t.rejectStray(from)
			continue
		}

		return t.buf[:n], from, nil
	}
}

// advance records that the awaited block arrived from the peer.
func (t *transfer) advance(from *net.UDPAddr) {
	t.pin(from)
	t.attempts = 0
}

func (t *transfer) rejectStray(from *net.UDPAddr) {
	raw, err := common.EncodeError(common.ErrUnknownTransferID, "Unknown transfer ID")
	if err != nil {
		return
	}
	// the stray sender is not part of this transfer, its delivery does not matter
	_ = t.channel.Send(raw, from)
}

// decodeFailure turns a failed decode into a RemoteError when the peer sent
// an ERROR packet, and leaves the MalformedPacketError otherwise.
func (t *transfer) decodeFailure(raw []byte, from *net.UDPAddr, err error) error {
	if op, peekErr := common.PeekOpcode(raw); peekErr != nil || op != common.ERROR {
		return err
	}
	pck, decErr := common.DecodeError(raw, from)
	if decErr != nil {
		return err
	}
	t.observe(Event{Kind: EventPacketReceived, Opcode: common.ERROR, Peer: from})
	return &RemoteError{Code: pck.Code, Message: pck.Message, Peer: from}
}

func (t *transfer) read(snk io.Writer) error {
	if err := t.sendRequest(common.RRQ); err != nil {
		return err
	}

	// written holds the extended sequences of the last reackWindow blocks, so
	// wrapped block numbers stay unique and only recent blocks are re-ACKed.
	var written bitmap.Bitmap
	expected := uint32(1)

	for {
		raw, from, err := t.receive(uint16(expected))
		if err != nil {
			return err
		}

		pck, err := common.DecodeData(raw, from)
		if err != nil {
			return t.decodeFailure(raw, from, err)
		}
		t.observe(Event{Kind: EventPacketReceived, Opcode: common.DATA, Block: pck.Block, Length: len(pck.Payload), Peer: from})

		seq, ok := sequence(expected, pck.Block)
		switch {
		case ok && written.Contains(seq):
			t.result.Duplicates++
			t.observe(Event{Kind: EventDuplicate, Opcode: common.DATA, Block: pck.Block, Peer: from})
			if err := t.transmit(common.NewAck(pck).ToBytes(), Event{Opcode: common.ACK, Block: pck.Block}); err != nil {
				return err
			}
			continue
		case !ok || seq != expected:
			t.observe(Event{Kind: EventUnexpectedBlock, Block: pck.Block, Peer: from})
			continue
		}

		t.advance(from)
		if _, err := snk.Write(pck.Payload); err != nil {
			return &LocalIOError{Op: "write", Path: t.filename, Err: err}
		}
		written.Set(seq)
		if seq > reackWindow {
			written.Remove(seq - reackWindow)
		}
		t.digest.Write(pck.Payload)
		t.result.Bytes += int64(len(pck.Payload))
		t.result.Blocks++

		if err := t.send(common.NewAck(pck).ToBytes(), Event{Opcode: common.ACK, Block: pck.Block}); err != nil {
			return err
		}
		expected++

		if pck.IsLast() {
			return nil
		}
	}
}

// reackWindow is how many of the most recently written blocks are still
// acknowledged again when they arrive a second time.
const reackWindow = 16

// sequence maps a wire block number onto the latest extended sequence not
// after expected. ok is false when no such sequence exists.
func sequence(expected uint32, block uint16) (uint32, bool) {
	back := uint32(uint16(expected) - block)
	if back >= expected {
		return 0, false
	}
	return expected - back, true
}

func (t *transfer) write(src io.Reader) error {
	if err := t.sendRequest(common.WRQ); err != nil {
		return err
	}

	buf := make([]byte, common.BlockSize)
	var block uint16
	finished := false

	for {
		if err := t.awaitAck(block); err != nil {
			return err
		}
		if finished {
			return nil
		}

		block++
		n, err := io.ReadFull(src, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return &LocalIOError{Op: "read", Path: t.filename, Err: err}
		}

		raw, err := common.EncodeData(block, buf[:n])
		if err != nil {
			return err
		}
		if err := t.send(raw, Event{Opcode: common.DATA, Block: block, Length: n}); err != nil {
			return err
		}

		t.digest.Write(buf[:n])
		t.result.Bytes += int64(n)
		t.result.Blocks++
		finished = n < common.BlockSize
	}
}

func (t *transfer) awaitAck(block uint16) error {
	for {
		raw, from, err := t.receive(block)
		if err != nil {
			return err
		}

		ack, err := common.DecodeAck(raw, from)
		if err != nil {
			return t.decodeFailure(raw, from, err)
		}
		t.observe(Event{Kind: EventPacketReceived, Opcode: common.ACK, Block: ack.Block, Peer: from})

		switch {
		case ack.Block == block:
			t.advance(from)
			return nil
		case t.pinned != nil && ack.Block == block-1:
			t.result.Duplicates++
			t.observe(Event{Kind: EventDuplicate, Opcode: common.ACK, Block: ack.Block, Peer: from})
		default:
			t.observe(Event{Kind: EventUnexpectedBlock, Block: ack.Block, Peer: from})
		}
	}
}

func appendErr(err error, other error) error {
	return multierr.Append(err, other)
}
