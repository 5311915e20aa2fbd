// Package zmq subscribes to a node's ZMQ block notifications over a minimal
// ZMTP 3.0 client (NULL mechanism, SUB socket, tcp only).
package zmq

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/logging"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const DefaultTopic = "hashblock"

type Config struct {
	Endpoint string
	Topic    string

	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	// ReadTimeout bounds the wait for the next notification. Zero waits
	// until ctx is done.
	ReadTimeout time.Duration

	Logger *slog.Logger
}

// Notification is one hashblock message. Seq is the publisher's per-topic
// sequence number.
type Notification struct {
	Hash chainhash.Hash
	Seq  uint32
}

// Subscribe delivers block notifications to out until ctx is done,
// reconnecting after failures. Sends never block: a full channel drops the
// notification, which callers treat as a coalesced wake-up.
func Subscribe(ctx context.Context, cfg Config, out chan<- Notification) error {
	if out == nil {
		return errors.New("zmq: out channel is nil")
	}
	addr, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return err
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	log := logging.OrDiscard(cfg.Logger).With("component", "zmq", "endpoint", addr, "topic", cfg.Topic)

	s := &subscriber{cfg: cfg, addr: addr, log: log, out: out}
	for ctx.Err() == nil {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("zmq session ended", "err", err, "retry_in", cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.ReconnectDelay):
		}
	}
	return nil
}

type subscriber struct {
	cfg  Config
	addr string
	log  *slog.Logger
	out  chan<- Notification

	lastSeq uint32
	haveSeq bool
}

func (s *subscriber) session(ctx context.Context) error {
	dialer := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("zmq: dial: %w", err)
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	r := bufio.NewReader(conn)
	if err := s.handshake(conn, r); err != nil {
		return err
	}
	s.log.Info("zmq subscribed")

	for {
		_ = conn.SetReadDeadline(deadline(s.cfg.ReadTimeout))
		parts, err := readMessage(r)
		if err != nil {
			return fmt.Errorf("zmq: read: %w", err)
		}
		n, ok := s.decode(parts)
		if !ok {
			continue
		}
		select {
		case s.out <- n:
		default:
		}
	}
}

func (s *subscriber) handshake(conn net.Conn, r io.Reader) error {
	g := nullGreeting()
	var peer [greetingLen]byte

	// The version bytes go first so peers can downgrade before the rest.
	_ = conn.SetWriteDeadline(deadline(s.cfg.WriteTimeout))
	if _, err := conn.Write(g[:11]); err != nil {
		return fmt.Errorf("zmq: handshake: write greeting: %w", err)
	}
	_ = conn.SetReadDeadline(deadline(s.cfg.DialTimeout))
	if _, err := io.ReadFull(r, peer[:11]); err != nil {
		return fmt.Errorf("zmq: handshake: read greeting: %w", err)
	}
	if err := checkGreeting(peer[:11]); err != nil {
		return err
	}
	if _, err := conn.Write(g[11:]); err != nil {
		return fmt.Errorf("zmq: handshake: write greeting: %w", err)
	}
	if _, err := io.ReadFull(r, peer[11:]); err != nil {
		return fmt.Errorf("zmq: handshake: read greeting: %w", err)
	}

	ready, err := readyCommand("SUB")
	if err != nil {
		return err
	}
	if err := writeFrame(conn, frame{command: true, body: ready}); err != nil {
		return fmt.Errorf("zmq: handshake: send READY: %w", err)
	}
	f, err := readFrame(r)
	if err != nil {
		return fmt.Errorf("zmq: handshake: read READY: %w", err)
	}
	if !f.command || commandName(f.body) != "READY" {
		return fmt.Errorf("zmq: handshake: expected READY, got %q", commandName(f.body))
	}

	sub := append([]byte{0x01}, s.cfg.Topic...)
	if err := writeFrame(conn, frame{body: sub}); err != nil {
		return fmt.Errorf("zmq: subscribe: %w", err)
	}
	return nil
}

// decode parses [topic, hash, seq]. The hash travels in display order.
func (s *subscriber) decode(parts [][]byte) (Notification, bool) {
	if len(parts) < 2 || string(parts[0]) != s.cfg.Topic {
		return Notification{}, false
	}
	body := parts[1]
	if len(body) != chainhash.HashSize {
		s.log.Warn("zmq notification has unexpected body size", "size", len(body))
		return Notification{}, false
	}
	var n Notification
	for i := range body {
		n.Hash[chainhash.HashSize-1-i] = body[i]
	}
	if len(parts) >= 3 && len(parts[2]) == 4 {
		n.Seq = binary.LittleEndian.Uint32(parts[2])
		if s.haveSeq && n.Seq != s.lastSeq+1 {
			s.log.Warn("zmq notifications missed", "last_seq", s.lastSeq, "seq", n.Seq)
		}
		s.lastSeq, s.haveSeq = n.Seq, true
	}
	return n, true
}
