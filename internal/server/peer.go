package server

import (
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/tftpc/internal/common"
)

// peerConn is the ephemeral socket of one transfer, bound to a single client.
type peerConn struct {
	conn    *net.UDPConn
	peer    *net.UDPAddr
	timeout time.Duration
	retries int
	buf     []byte
}

func (pc *peerConn) send(raw []byte) error {
	_, err := pc.conn.WriteToUDP(raw, pc.peer)
	return errors.Wrap(err, "could not write Packet to UDP")
}

// exchange sends out and waits until accept reports the expected reply,
// retransmitting out on every timeout.
func (pc *peerConn) exchange(out []byte, accept func(reply []byte) (bool, error)) error {
	if err := pc.send(out); err != nil {
		return err
	}

	attempts := 0
	for {
		if err := pc.conn.SetReadDeadline(time.Now().Add(pc.timeout)); err != nil {
			return err
		}

		n, from, err := pc.conn.ReadFromUDP(pc.buf)
		if err != nil {
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				return err
			}

			attempts++
			if attempts > pc.retries {
				return errors.Errorf("peer did not answer after %d attempts", attempts)
			}
			log.WithFields(log.Fields{
				"Peer":    pc.peer.String(),
				"Attempt": attempts,
			}).Debug("Retransmitting")
			if err := pc.send(out); err != nil {
				return err
			}
			continue
		}

		if from.Port != pc.peer.Port || !from.IP.Equal(pc.peer.IP) {
			raw, _ := common.EncodeError(common.ErrUnknownTransferID, "Unknown transfer ID")
			if _, err := pc.conn.WriteToUDP(raw, from); err != nil {
				log.WithError(err).Warn("Could not reject stray Packet")
			}
			continue
		}

		reply := pc.buf[:n]
		if op, err := common.PeekOpcode(reply); err == nil && op == common.ERROR {
			if pck, err := common.DecodeError(reply, from); err == nil {
				return errors.Errorf("peer aborted with error %d: %s", pck.Code, pck.Message)
			}
		}

		done, err := accept(reply)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
