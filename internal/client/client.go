package client

import (
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/Pablu23/tftpc/internal/storage"
)

type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

func (d Direction) String() string {
	if d == DirectionWrite {
		return "write"
	}
	return "read"
}

// Result summarizes a finished transfer.
type Result struct {
	TransferID  string
	Filename    string
	Direction   Direction
	Peer        *net.UDPAddr
	Bytes       int64
	Blocks      int
	Retransmits int
	Duplicates  int
	// Digest is the BLAKE2b-256 sum of the transferred bytes.
	Digest   []byte
	Duration time.Duration
}

// Client runs read and write transfers against one server. Transfers on a
// single Client must not run concurrently.
type Client struct {
	options *Options
	server  *net.UDPAddr
}

func New(opts ...func(*Options)) (*Client, error) {
	options := NewDefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	if options.Retries < 0 {
		return nil, errors.Errorf("retries must not be negative, got %d", options.Retries)
	}

	server, err := net.ResolveUDPAddr(options.Network, net.JoinHostPort(options.Server, strconv.Itoa(options.Port)))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve server %s:%d", options.Server, options.Port)
	}

	if options.Storage == nil {
		store, err := storage.New(storage.DefaultFolder)
		if err != nil {
			return nil, err
		}
		options.Storage = store
	}
	if options.Observer == nil {
		options.Observer = NopObserver
	}
	if options.OpenChannel == nil {
		network := options.Network
		options.OpenChannel = func() (Channel, error) {
			return OpenUDP(network)
		}
	}

	return &Client{
		options: options,
		server:  server,
	}, nil
}

func (client *Client) Server() *net.UDPAddr {
	return client.server
}

// ReadFile fetches filename from the server (RRQ) into local storage. On any
// failure the partially written local file is removed.
func (client *Client) ReadFile(filename string) (*Result, error) {
	t := client.newTransfer(DirectionRead, filename)

	snk, err := client.options.Storage.Create(filename)
	if err != nil {
		return nil, t.fail(&LocalIOError{Op: "create", Path: filename, Err: err})
	}

	err = t.open()
	if err == nil {
		err = t.read(snk)
	}
	err = appendErr(err, t.close())
	if closeErr := snk.Close(); closeErr != nil {
		err = appendErr(err, &LocalIOError{Op: "close", Path: filename, Err: closeErr})
	}

	if err != nil {
		if rmErr := client.options.Storage.Remove(filename); rmErr != nil {
			err = appendErr(err, &LocalIOError{Op: "remove", Path: filename, Err: rmErr})
		}
		return nil, t.fail(err)
	}

	return t.complete(), nil
}

// WriteFile pushes filename from local storage to the server (WRQ).
func (client *Client) WriteFile(filename string) (*Result, error) {
	t := client.newTransfer(DirectionWrite, filename)

	src, err := client.options.Storage.Open(filename)
	if err != nil {
		return nil, t.fail(&LocalIOError{Op: "open", Path: filename, Err: err})
	}

	err = t.open()
	if err == nil {
		err = t.write(src)
	}
	err = appendErr(err, t.close())
	if closeErr := src.Close(); closeErr != nil {
		err = appendErr(err, &LocalIOError{Op: "close", Path: filename, Err: closeErr})
	}

	if err != nil {
		return nil, t.fail(err)
	}

	return t.complete(), nil
}
