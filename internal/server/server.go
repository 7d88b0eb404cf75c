package server

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/tftpc/internal/common"
)

type info struct {
	path   string
	opcode common.Opcode
	block  uint16
	time   time.Time
}

// Server answers RRQ and WRQ requests lockstep, one ephemeral socket per
// transfer.
type Server struct {
	sessions       map[string]*info
	mu             sync.Mutex
	options        *Options
	parentFilePath string

	conn      *net.UDPConn
	wg        sync.WaitGroup
	stop      chan struct{}
	closeOnce sync.Once
}

func New(opts ...func(*Options)) (*Server, error) {
	options := NewDefaultOptions()

	for _, opt := range opts {
		opt(options)
	}

	if options.Timeout <= 0 {
		return nil, errors.New("server timeout must be positive")
	}
	if options.SessionTimeout <= 0 {
		return nil, errors.New("session timeout must be positive")
	}

	parentFilePath, err := filepath.Abs(options.Datapath)
	if err != nil {
		return nil, err
	}

	return &Server{
		sessions:       make(map[string]*info),
		options:        options,
		parentFilePath: parentFilePath,
		stop:           make(chan struct{}),
	}, nil
}

func (server *Server) ListenAndServe() error {
	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(server.options.Address, fmt.Sprint(server.options.Port)))
	if err != nil {
		return errors.Wrap(err, "could not resolve UDP address")
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errors.Wrap(err, "could not start listening")
	}

	return server.Serve(conn)
}

// Serve takes ownership of conn and handles requests on it until Close.
func (server *Server) Serve(conn *net.UDPConn) error {
	server.mu.Lock()
	select {
	case <-server.stop:
		server.mu.Unlock()
		return conn.Close()
	default:
	}
	server.conn = conn
	server.mu.Unlock()

	log.WithField("Address", conn.LocalAddr().String()).Info("Started listening")

	go server.startTimeout()

	buf := make([]byte, common.MaxPacketSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-server.stop:
				return nil
			default:
			}
			log.WithError(err).Error("Could not retrieve UDP Packet")
			continue
		}

		req, err := common.DecodeRequest(buf[:n], addr)
		if err != nil {
			log.WithError(err).WithField("Peer", addr.String()).Warn("Received invalid request")
			server.sendError(conn, addr, common.ErrIllegalOperation, "Illegal TFTP operation")
			continue
		}

		if !server.startSession(req) {
			log.WithField("Peer", addr.String()).Debug("Ignoring repeated request")
			continue
		}

		server.mu.Lock()
		select {
		case <-server.stop:
			server.mu.Unlock()
			return nil
		default:
		}
		server.wg.Add(1)
		server.mu.Unlock()

		go server.handleRequest(req)
	}
}

func (server *Server) Addr() net.Addr {
	server.mu.Lock()
	defer server.mu.Unlock()
	if server.conn == nil {
		return nil
	}
	return server.conn.LocalAddr()
}

// Close stops accepting requests and waits for running transfers.
func (server *Server) Close() error {
	var err error
	server.closeOnce.Do(func() {
		server.mu.Lock()
		close(server.stop)
		if server.conn != nil {
			err = server.conn.Close()
		}
		server.mu.Unlock()
		server.wg.Wait()
		log.Info("Server is shutting down")
	})
	return err
}

func (server *Server) startSession(req *common.RequestPacket) bool {
	server.mu.Lock()
	defer server.mu.Unlock()

	key := req.Peer.String()
	if _, ok := server.sessions[key]; ok {
		return false
	}
	server.sessions[key] = &info{opcode: req.Opcode, time: time.Now()}
	return true
}

func (server *Server) touchSession(peer *net.UDPAddr, path string, block uint16) {
	server.mu.Lock()
	if info, ok := server.sessions[peer.String()]; ok {
		info.path = path
		info.block = block
		info.time = time.Now()
	}
	server.mu.Unlock()
}

func (server *Server) endSession(peer *net.UDPAddr) {
	server.mu.Lock()
	delete(server.sessions, peer.String())
	server.mu.Unlock()
}

func (server *Server) startTimeout() {
	ticker := time.NewTicker(server.options.SessionTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-server.stop:
			return
		case <-ticker.C:
			server.cleanup()
		}
	}
}

func (server *Server) cleanup() {
	server.mu.Lock()

	for peer, info := range server.sessions {
		if time.Now().After(info.time.Add(server.options.SessionTimeout)) {
			delete(server.sessions, peer)
			log.WithField("Peer", peer).Info("Closed stale session")
		}
	}

	server.mu.Unlock()
}

func (server *Server) resolve(name string) (string, error) {
	file := filepath.Clean(filepath.Join(server.parentFilePath, name))

	matched, err := filepath.Match(filepath.Join(server.parentFilePath, "*"), file)
	if err != nil || !matched {
		log.WithFields(log.Fields{
			"ParentFilePath":    server.parentFilePath,
			"RequestedFilePath": name,
			"CleanedFilePath":   file,
		}).WithError(err).Warn("Requesting File out of Path")
		return "", errors.Errorf("%q is outside the served folder", name)
	}
	return file, nil
}

func (server *Server) sendError(conn *net.UDPConn, addr *net.UDPAddr, code common.ErrorCode, message string) {
	raw, err := common.EncodeError(code, message)
	if err != nil {
		log.WithError(err).Error("Could not encode error packet")
		return
	}
	if _, err := conn.WriteToUDP(raw, addr); err != nil {
		log.WithError(err).Error("Could not write Packet to UDP")
	}
}

func (server *Server) handleRequest(req *common.RequestPacket) {
	defer server.wg.Done()
	defer server.endSession(req.Peer)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		log.WithError(err).Error("Could not open transfer socket")
		return
	}
	defer func(conn *net.UDPConn) {
		if err := conn.Close(); err != nil {
			log.WithError(err).Error("Could not close transfer socket")
		}
	}(conn)

	pc := &peerConn{
		conn:    conn,
		peer:    req.Peer,
		timeout: server.options.Timeout,
		retries: server.options.Retries,
		buf:     make([]byte, common.MaxPacketSize+1),
	}

	entry := log.WithFields(log.Fields{
		"Peer": req.Peer.String(),
		"File": req.Filename,
	})

	path, err := server.resolve(req.Filename)
	if err != nil {
		server.sendError(conn, req.Peer, common.ErrAccessViolation, "Access violation")
		return
	}

	switch req.Opcode {
	case common.RRQ:
		entry.Info("Starting read transfer")
		err = server.sendFile(pc, path)
	case common.WRQ:
		entry.Info("Starting write transfer")
		err = server.receiveFile(pc, path)
	}

	if err != nil {
		entry.WithError(err).Warn("Transfer aborted")
		return
	}
	entry.Info("Transfer complete")
}

func (server *Server) sendFile(pc *peerConn, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			server.sendError(pc.conn, pc.peer, common.ErrFileNotFound, "File not found")
		} else {
			server.sendError(pc.conn, pc.peer, common.ErrAccessViolation, "Access violation")
		}
		return err
	}
	defer func(file *os.File) {
		if err := file.Close(); err != nil {
			log.WithError(err).Error("Could not close File")
		}
	}(file)

	buf := make([]byte, common.BlockSize)
	block := uint16(1)
	for {
		n, err := io.ReadFull(file, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			server.sendError(pc.conn, pc.peer, common.ErrNotDefined, "Read error")
			return err
		}

		raw, err := common.EncodeData(block, buf[:n])
		if err != nil {
			return err
		}

		current := block
		err = pc.exchange(raw, func(reply []byte) (bool, error) {
			ack, err := common.DecodeAck(reply, pc.peer)
			if err != nil {
				return false, err
			}
			return ack.Block == current, nil
		})
		if err != nil {
			return err
		}
		server.touchSession(pc.peer, path, block)

		if n < common.BlockSize {
			return nil
		}
		block++
	}
}

func (server *Server) receiveFile(pc *peerConn, path string) error {
	if _, err := os.Stat(path); err == nil && !server.options.AllowOverwrite {
		server.sendError(pc.conn, pc.peer, common.ErrFileExists, "File already exists")
		return errors.Errorf("%s already exists", path)
	}

	file, err := os.Create(path)
	if err != nil {
		server.sendError(pc.conn, pc.peer, common.ErrAccessViolation, "Access violation")
		return err
	}

	err = server.receiveBlocks(pc, file, path)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			log.WithError(rmErr).WithField("File Path", path).Error("Could not remove partial File")
		}
	}
	return err
}

func (server *Server) receiveBlocks(pc *peerConn, file io.Writer, path string) error {
	out := common.EncodeAck(0)
	block := uint16(1)

	for {
		var pck *common.DataPacket
		expected := block
		err := pc.exchange(out, func(reply []byte) (bool, error) {
			data, err := common.DecodeData(reply, pc.peer)
			if err != nil {
				return false, err
			}
			if data.Block != expected {
				return false, nil
			}
			pck = data
			return true, nil
		})
		if err != nil {
			return err
		}

		if _, err := file.Write(pck.Payload); err != nil {
			server.sendError(pc.conn, pc.peer, common.ErrDiskFull, "Disk full or allocation exceeded")
			return err
		}
		server.touchSession(pc.peer, path, block)

		out = common.EncodeAck(block)
		if pck.IsLast() {
			return pc.send(out)
		}
		block++
	}
}
