package client

import (
	"time"

	"github.com/Pablu23/tftpc/internal/common"
	"github.com/Pablu23/tftpc/internal/storage"
)

// Storage supplies and consumes the local side of a transfer.
type Storage interface {
	Open(name string) (storage.Source, error)
	Create(name string) (storage.Sink, error)
	Remove(name string) error
}

type Options struct {
	Server  string
	Port    int
	Network string
	Mode    string
	// Timeout of 0 waits for every reply forever.
	Timeout time.Duration
	// Retries is the number of retransmissions after a timeout before the
	// transfer fails.
	Retries int

	Storage     Storage
	Observer    Observer
	OpenChannel func() (Channel, error)
}

func NewDefaultOptions() *Options {
	return &Options{
		Server:  "localhost",
		Port:    common.DefaultPort,
		Network: "udp",
		Mode:    common.ModeOctet,
		Timeout: 0,
		Retries: 5,
	}
}
