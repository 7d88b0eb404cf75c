package client

import (
	"fmt"
	"net"
	"time"

	"github.com/Pablu23/tftpc/internal/common"
)

// ChannelError reports a failure to open, send on or close the datagram channel.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s failed: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// ReceiveError reports a receive that failed for a reason other than a timeout.
type ReceiveError struct {
	Err error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("receive failed: %v", e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }

// TimeoutError reports that no acceptable reply arrived after every retry.
type TimeoutError struct {
	Block    uint16
	Attempts int
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no reply for block %d after %d attempts of %v", e.Block, e.Attempts, e.Timeout)
}

type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local %s of %q failed: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// RemoteError carries an ERROR packet sent by the peer.
type RemoteError struct {
	Code    common.ErrorCode
	Message string
	Peer    *net.UDPAddr
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("peer %v reported error %d: %s", e.Peer, e.Code, e.Message)
}
