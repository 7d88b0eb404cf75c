package client

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/Pablu23/tftpc/internal/common"
	"github.com/Pablu23/tftpc/internal/storage"
)

var (
	serverAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: common.DefaultPort}
	tidAddr    = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50123}
	strayAddr  = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50999}
)

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

// fakeChannel plays the server side of a transfer: respond is called for
// every sent datagram and may queue replies.
type fakeChannel struct {
	sent    []datagram
	inbox   []datagram
	respond func(ch *fakeChannel, d datagram)
	closed  int
}

func (ch *fakeChannel) Send(b []byte, to *net.UDPAddr) error {
	d := datagram{data: append([]byte(nil), b...), addr: to}
	ch.sent = append(ch.sent, d)
	if ch.respond != nil {
		ch.respond(ch, d)
	}
	return nil
}

func (ch *fakeChannel) Receive(buf []byte, timeout time.Duration) (int, *net.UDPAddr, error) {
	if len(ch.inbox) == 0 {
		if timeout > 0 {
			return 0, nil, ErrReceiveTimeout
		}
		return 0, nil, errors.New("receive would block forever")
	}
	d := ch.inbox[0]
	ch.inbox = ch.inbox[1:]
	return copy(buf, d.data), d.addr, nil
}

func (ch *fakeChannel) Close() error {
	ch.closed++
	return nil
}

func (ch *fakeChannel) queue(data []byte, from *net.UDPAddr) {
	ch.inbox = append(ch.inbox, datagram{data: data, addr: from})
}

// sentOf returns the datagrams the client sent with the given opcode.
func (ch *fakeChannel) sentOf(op common.Opcode) []datagram {
	var out []datagram
	for _, d := range ch.sent {
		if got, _ := common.PeekOpcode(d.data); got == op {
			out = append(out, d)
		}
	}
	return out
}

func mustData(t *testing.T, block uint16, payload []byte) []byte {
	t.Helper()
	raw, err := common.EncodeData(block, payload)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func blockOf(content []byte, block int) []byte {
	start := (block - 1) * common.BlockSize
	if start >= len(content) {
		return []byte{}
	}
	end := start + common.BlockSize
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}

// readServer serves content for an RRQ from tidAddr.
func readServer(t *testing.T, content []byte) func(*fakeChannel, datagram) {
	return func(ch *fakeChannel, d datagram) {
		op, _ := common.PeekOpcode(d.data)
		switch op {
		case common.RRQ:
			ch.queue(mustData(t, 1, blockOf(content, 1)), tidAddr)
		case common.ACK:
			ack, err := common.DecodeAck(d.data, d.addr)
			if err != nil {
				t.Fatal(err)
			}
			next := int(ack.Block) + 1
			if (next-1)*common.BlockSize <= len(content) {
				ch.queue(mustData(t, uint16(next), blockOf(content, next)), tidAddr)
			}
		}
	}
}

// writeServer acknowledges a WRQ and every DATA from tidAddr and collects
// the payloads.
func writeServer(t *testing.T, received *[]byte) func(*fakeChannel, datagram) {
	return func(ch *fakeChannel, d datagram) {
		op, _ := common.PeekOpcode(d.data)
		switch op {
		case common.WRQ:
			ch.queue(common.EncodeAck(0), tidAddr)
		case common.DATA:
			pck, err := common.DecodeData(d.data, d.addr)
			if err != nil {
				t.Fatal(err)
			}
			*received = append(*received, pck.Payload...)
			ch.queue(common.EncodeAck(pck.Block), tidAddr)
		}
	}
}

func newTestClient(t *testing.T, ch *fakeChannel, opts ...func(*Options)) (*Client, *storage.Store, *Recorder) {
	t.Helper()

	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	recorder := &Recorder{}

	all := append([]func(*Options){func(o *Options) {
		o.Server = "127.0.0.1"
		o.Storage = store
		o.Observer = recorder
		o.OpenChannel = func() (Channel, error) { return ch, nil }
	}}, opts...)

	client, err := New(all...)
	if err != nil {
		t.Fatal(err)
	}
	return client, store, recorder
}

// memStorage keeps downloads in memory and records removals.
type memStorage struct {
	created []*memSink
	removed []string
}

type memSink struct {
	bytes.Buffer
	name string
}

func (snk *memSink) Close() error { return nil }
func (snk *memSink) Path() string { return snk.name }

func (m *memStorage) Open(name string) (storage.Source, error) {
	return nil, errors.Errorf("%s is not stored", name)
}

func (m *memStorage) Create(name string) (storage.Sink, error) {
	snk := &memSink{name: name}
	m.created = append(m.created, snk)
	return snk, nil
}

func (m *memStorage) Remove(name string) error {
	m.removed = append(m.removed, name)
	return nil
}
