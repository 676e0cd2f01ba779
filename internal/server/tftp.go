// Package server hosts the TFTP dispatcher: binds the UDP socket, demuxes
// datagrams to per-client sessions, and owns each session's watchdog.
//
// The accept-loop shape (select on a done channel, SetReadDeadline to make
// the loop cancellable, one goroutine per inbound datagram) mirrors a
// classic UDP server pattern; per-packet opcode handling is delegated to
// internal/tftp/session.Session rather than inlined, so block bookkeeping
// and watchdog scheduling live in one place (see DESIGN.md).
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/example/tftpd-aio/internal/config"
	"github.com/example/tftpd-aio/internal/privsep"
	"github.com/example/tftpd-aio/internal/tftp/packet"
	"github.com/example/tftpd-aio/internal/tftp/pathmap"
	"github.com/example/tftpd-aio/internal/tftp/session"
	"github.com/example/tftpd-aio/internal/tftp/watchdog"
	"github.com/example/tftpd-aio/internal/utils"
)

// maxDatagramSize bounds a single recvfrom; comfortably above the 516-byte
// max TFTP packet (4-byte header + 512-byte block) with slack for jumbo
// MTUs that never apply here.
const maxDatagramSize = 4096

// TFTPServer implements the TFTP dispatcher.
type TFTPServer struct {
	cfg    *config.Config
	logger *utils.Logger

	readMapper  *pathmap.Mapper
	writeMapper *pathmap.Mapper

	conn *net.UDPConn
	done chan struct{}
	wg   sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*activeSession
}

type activeSession struct {
	sess *session.Session
	wd   *watchdog.Watchdog
	addr *net.UDPAddr
}

// NewTFTPServer creates a new TFTP server.
func NewTFTPServer(cfg *config.Config, logger *utils.Logger) *TFTPServer {
	return &TFTPServer{
		cfg:         cfg,
		logger:      logger,
		readMapper:  pathmap.New(cfg.RootPath, cfg.Paths.ReadTemplate()),
		writeMapper: pathmap.New(cfg.RootPath, cfg.Paths.WriteTemplate()),
		done:        make(chan struct{}),
		sessions:    make(map[string]*activeSession),
	}
}

// Name returns the server name.
func (s *TFTPServer) Name() string { return "TFTP" }

// Port returns the port the server is listening on.
func (s *TFTPServer) Port() int { return s.cfg.Port }

// Start binds the UDP socket and runs the receive loop until ctx is done.
func (s *TFTPServer) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", s.cfg.Port, err)
	}
	s.conn = conn

	if err := privsep.Drop(s.cfg, s.logger); err != nil {
		conn.Close()
		return fmt.Errorf("failed to drop privileges: %w", err)
	}

	s.logger.Info("TFTP server listening on %s:%d", s.cfg.Host, s.cfg.Port)

	go s.receiveLoop()

	<-ctx.Done()
	return nil
}

// Stop closes the socket, tears down every active session, and waits for
// in-flight datagram handlers to finish. The receive loop is not waited
// for; it returns on its own once the socket is closed.
func (s *TFTPServer) Stop() error {
	close(s.done)
	var err error
	if s.conn != nil {
		err = s.conn.Close()
	}

	s.mu.Lock()
	for key, as := range s.sessions {
		as.wd.Stop()
		as.sess.Close()
		delete(s.sessions, key)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *TFTPServer) receiveLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				s.logger.Error("failed to read UDP datagram: %v", err)
				continue
			}
		}

		payload := append([]byte(nil), buf[:n]...)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.recoverDatagramPanic(addr)
			s.handleDatagram(payload, addr)
		}()
	}
}

func (s *TFTPServer) recoverDatagramPanic(addr *net.UDPAddr) {
	if r := recover(); r != nil {
		s.logger.Error("recovered from panic handling datagram from %s: %v", addr, r)
		s.teardown(addr.String())
	}
}

func (s *TFTPServer) handleDatagram(raw []byte, addr *net.UDPAddr) {
	key := addr.String()

	s.mu.Lock()
	as, exists := s.sessions[key]
	s.mu.Unlock()

	pkt, parseErr := packet.Parse(raw)

	if !exists {
		if parseErr != nil {
			s.send(addr, packet.EncodeErrorForKind(packet.KindMalformedPacket))
			return
		}
		s.handleInitial(pkt, addr)
		return
	}

	if parseErr != nil {
		out := as.sess.StepMalformed()
		s.applyOutcome(key, as, out)
		return
	}

	out := as.sess.Step(pkt)
	as.wd.Reset()
	s.applyOutcome(key, as, out)
}

// handleInitial routes a datagram from a previously-unseen key: only
// RRQ/WRQ may create a session.
func (s *TFTPServer) handleInitial(pkt packet.Packet, addr *net.UDPAddr) {
	if pkt.Op != packet.OpRRQ && pkt.Op != packet.OpWRQ {
		s.send(addr, packet.EncodeErrorForKind(packet.KindUnknownOpcode))
		return
	}

	remoteIP := addr.IP.String()
	remotePort := addr.Port

	var sess *session.Session
	var outcome session.Outcome

	if pkt.Op == packet.OpRRQ {
		path, err := s.readMapper.Resolve(pkt.Req.Filename, remoteIP, remotePort)
		if err != nil {
			s.logger.Info("RRQ from %s rejected: %v", addr, err)
			s.send(addr, packet.EncodeErrorForKind(packet.KindPathEscapesRoot))
			return
		}
		sess, outcome = session.OpenRead(path)
	} else {
		path, err := s.writeMapper.Resolve(pkt.Req.Filename, remoteIP, remotePort)
		if err != nil {
			s.logger.Info("WRQ from %s rejected: %v", addr, err)
			s.send(addr, packet.EncodeErrorForKind(packet.KindPathEscapesRoot))
			return
		}
		sess, outcome = session.OpenWrite(path)
	}

	if sess == nil {
		if outcome.Reply != nil {
			s.send(addr, outcome.Reply)
		}
		s.logger.Info("%s from %s failed: %s", pkt.Op, addr, outcome.Reason)
		return
	}

	key := addr.String()
	as := &activeSession{sess: sess, addr: addr}
	as.wd = watchdog.New(
		func() { s.retransmit(key) },
		func() { s.timeout(key) },
	)

	s.mu.Lock()
	s.sessions[key] = as
	s.mu.Unlock()

	s.logger.Debug("opened %s session for %s", sess.Direction(), addr)

	// The session is registered before the first reply goes out, so the
	// peer's answer to it is routed to this session.
	if outcome.Reply != nil {
		s.send(addr, outcome.Reply)
	}
	if outcome.Done {
		s.teardown(key)
	}
}

func (s *TFTPServer) applyOutcome(key string, as *activeSession, out session.Outcome) {
	if out.Done {
		s.logger.Info("session %s closed (%d bytes): %s", as.addr, as.sess.BytesTransferred(), out.Reason)
		s.teardown(key)
	}
	// A final reply goes out only after teardown, so the peer's next
	// request from the same address starts a new session.
	if out.Reply != nil {
		s.send(as.addr, out.Reply)
	}
}

func (s *TFTPServer) retransmit(key string) {
	s.mu.Lock()
	as, exists := s.sessions[key]
	s.mu.Unlock()
	if !exists {
		return
	}
	last := as.sess.LastSent()
	if len(last) == 0 {
		return
	}
	s.logger.Debug("retransmitting to %s", as.addr)
	s.send(as.addr, last)
}

func (s *TFTPServer) timeout(key string) {
	s.mu.Lock()
	as, exists := s.sessions[key]
	if exists {
		delete(s.sessions, key)
	}
	s.mu.Unlock()
	if !exists {
		return
	}
	s.logger.Info("session %s timed out", as.addr)
	as.sess.Close()
}

// teardown removes and closes a session. A session already removed (e.g.
// concurrently timed out) is a silent no-op.
func (s *TFTPServer) teardown(key string) {
	s.mu.Lock()
	as, exists := s.sessions[key]
	if exists {
		delete(s.sessions, key)
	}
	s.mu.Unlock()
	if !exists {
		return
	}
	as.wd.Stop()
	as.sess.Close()
}

func (s *TFTPServer) send(addr *net.UDPAddr, data []byte) {
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.logger.Error("failed to send datagram to %s: %v", addr, err)
	}
}
