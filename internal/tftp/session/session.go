// Package session implements the per-client TFTP transfer state machine:
// Read (server-to-client) and Write (client-to-server) sessions, block
// counting, end-of-transfer detection, and the shared rules for malformed
// packets and peer ERRORs. All mutable state is guarded by a per-session
// mutex so a dispatcher goroutine and a watchdog goroutine can both drive
// transitions safely.
package session

import (
	"fmt"
	"io"
	"sync"

	"github.com/example/tftpd-aio/internal/store"
	"github.com/example/tftpd-aio/internal/tftp/packet"
)

// Direction is Read (server sends DATA) or Write (server receives DATA).
type Direction int

const (
	Read Direction = iota
	Write
)

// Outcome describes what a Step produced: a datagram to send, and/or a
// terminal signal telling the caller to tear the session down.
type Outcome struct {
	Reply []byte
	Done  bool
	// Reason is a short, lower-case phrase for logging ("transfer
	// complete", "peer error", "illegal operation", ...); empty when Done
	// is false.
	Reason string
}

// Session is one RRQ/WRQ transfer. All exported methods are safe for
// concurrent use; the caller (typically a dispatcher and a watchdog) must
// still serialize Step and LastSent/Close against each other only
// through this type's own lock, never externally.
type Session struct {
	mu sync.Mutex

	direction      Direction
	file           io.Closer
	reader         io.Reader
	writer         io.Writer
	expectedBlock  uint16
	bytesTransferred int64
	lastSent       []byte
	eofSent        bool
	closed         bool
}

// OpenRead begins a Read session: opens path and builds DATA block 1.
// Returns the new Session and the Outcome to send to the peer. On failure
// the Session is nil and the Outcome carries the ERROR reply with Done set.
func OpenRead(path string) (*Session, Outcome) {
	if !store.Exists(path) {
		return nil, Outcome{Reply: packet.EncodeErrorForKind(packet.KindFileNotFound), Done: true, Reason: "file not found"}
	}
	rc, err := store.OpenRead(path)
	if err != nil {
		return nil, Outcome{Reply: packet.EncodeErrorForKind(packet.KindFileOpen), Done: true, Reason: "open failed"}
	}

	s := &Session{direction: Read, file: rc, reader: rc, expectedBlock: 1}

	buf := make([]byte, packet.DataBlockSize)
	n, _ := io.ReadFull(rc, buf) // io.ReadFull returns ErrUnexpectedEOF/EOF for a short read; both are treated as the available bytes.
	payload := buf[:n]

	reply := packet.EncodeData(1, payload)
	s.lastSent = reply
	s.bytesTransferred = int64(n)
	if n < packet.DataBlockSize {
		s.eofSent = true
	}
	return s, Outcome{Reply: reply}
}

// OpenWrite begins a Write session: rejects an existing file, creates the
// destination, sends ACK(0).
func OpenWrite(path string) (*Session, Outcome) {
	if store.Exists(path) {
		return nil, Outcome{Reply: packet.EncodeErrorForKind(packet.KindFileExists), Done: true, Reason: "file exists"}
	}
	wc, err := store.CreateWrite(path)
	if err != nil {
		return nil, Outcome{Reply: packet.EncodeErrorForKind(packet.KindFileOpen), Done: true, Reason: "create failed"}
	}

	s := &Session{direction: Write, file: wc, writer: wc, expectedBlock: 1}
	reply := packet.EncodeAck(0)
	s.lastSent = reply
	return s, Outcome{Reply: reply}
}

// Step processes one inbound packet already attributed to this session.
func (s *Session) Step(pkt packet.Packet) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Outcome{}
	}

	switch pkt.Op {
	case packet.OpERROR:
		s.closeLocked()
		return Outcome{Done: true, Reason: "peer error"}

	case packet.OpACK:
		if s.direction != Read {
			return Outcome{Reply: packet.EncodeErrorForKind(packet.KindUnknownOpcode), Done: true, Reason: "illegal operation"}
		}
		return s.stepReadACK(pkt.Ack)

	case packet.OpDATA:
		if s.direction != Write {
			return Outcome{Reply: packet.EncodeErrorForKind(packet.KindUnknownOpcode), Done: true, Reason: "illegal operation"}
		}
		return s.stepWriteDATA(pkt.Dat)

	default:
		s.closeLocked()
		return Outcome{Reply: packet.EncodeErrorForKind(packet.KindUnknownOpcode), Done: true, Reason: "illegal operation"}
	}
}

// StepMalformed handles a datagram that failed to parse on an established
// session: IllegalOp and teardown, the stricter of the two reasonable
// policies.
func (s *Session) StepMalformed() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Outcome{}
	}
	s.closeLocked()
	return Outcome{Reply: packet.EncodeErrorForKind(packet.KindMalformedPacket), Done: true, Reason: "malformed packet"}
}

func (s *Session) stepReadACK(ack *packet.Ack) Outcome {
	if s.eofSent {
		// Any ACK ends an AwaitFinalAck session; the block number is not
		// re-checked.
		s.closeLocked()
		return Outcome{Done: true, Reason: "transfer complete"}
	}
	if ack.Block != s.expectedBlock {
		// Duplicate/out-of-order ACK: ignored, watchdog will retransmit.
		return Outcome{}
	}

	buf := make([]byte, packet.DataBlockSize)
	n, readErr := io.ReadFull(s.reader, buf)
	if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
		n = 0 // treat any other read failure as end-of-transfer
	}
	payload := buf[:n]

	s.expectedBlock++ // wraps 65536 -> 0 via uint16 overflow
	reply := packet.EncodeData(s.expectedBlock, payload)
	s.lastSent = reply
	s.bytesTransferred += int64(n)
	if n < packet.DataBlockSize {
		s.eofSent = true
	}
	return Outcome{Reply: reply}
}

func (s *Session) stepWriteDATA(dat *packet.Data) Outcome {
	if dat.Block != s.expectedBlock {
		// Duplicate block: silently dropped, relying on the peer's
		// retransmit-on-timeout rather than re-ACKing the previous block.
		return Outcome{}
	}

	if _, err := s.writer.Write(dat.Payload); err != nil {
		s.closeLocked()
		return Outcome{Reply: packet.EncodeErrorForKind(packet.KindFileWrite), Done: true, Reason: "write failed"}
	}
	s.bytesTransferred += int64(len(dat.Payload))

	reply := packet.EncodeAck(dat.Block)
	s.lastSent = reply

	if len(dat.Payload) < packet.DataBlockSize {
		s.closeLocked()
		return Outcome{Reply: reply, Done: true, Reason: "transfer complete"}
	}

	s.expectedBlock++ // wraps 65536 -> 0
	return Outcome{Reply: reply}
}

// LastSent returns the verbatim bytes of the most recently sent datagram,
// for watchdog retransmission. Empty before the first send (which never
// happens in practice: OpenRead/OpenWrite always populate it before
// returning a non-nil *Session).
func (s *Session) LastSent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent
}

// BytesTransferred returns the cumulative byte count, for logging.
func (s *Session) BytesTransferred() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesTransferred
}

// Close tears the session down, releasing its file handle. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	if s.file != nil {
		_ = s.file.Close()
	}
}

// Closed reports whether the session has already been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ExpectedBlock exposes the next-expected block number, for tests and
// diagnostics.
func (s *Session) ExpectedBlock() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expectedBlock
}

// Direction exposes the session's direction, for dispatcher logging.
func (s *Session) Direction() Direction {
	return s.direction
}

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}
