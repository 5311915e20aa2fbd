package zmq

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// publish plays the PUB side of one session and sends the given hashes.
func publish(t *testing.T, ln net.Listener, hashes []chainhash.Hash) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		t.Errorf("accept: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	var peer [greetingLen]byte
	if _, err := io.ReadFull(r, peer[:11]); err != nil {
		t.Errorf("read greeting: %v", err)
		return
	}
	g := nullGreeting()
	g[32] = 1 // as-server
	if _, err := conn.Write(g[:]); err != nil {
		t.Errorf("write greeting: %v", err)
		return
	}
	if _, err := io.ReadFull(r, peer[11:]); err != nil {
		t.Errorf("read greeting rest: %v", err)
		return
	}
	if f, err := readFrame(r); err != nil || commandName(f.body) != "READY" {
		t.Errorf("read READY: %v", err)
		return
	}
	ready, _ := readyCommand("PUB")
	if err := writeFrame(conn, frame{command: true, body: ready}); err != nil {
		t.Errorf("write READY: %v", err)
		return
	}
	sub, err := readFrame(r)
	if err != nil || string(sub.body) != "\x01hashblock" {
		t.Errorf("subscription=%q err=%v", sub.body, err)
		return
	}

	for i, h := range hashes {
		display := make([]byte, chainhash.HashSize)
		for j := range h {
			display[chainhash.HashSize-1-j] = h[j]
		}
		var seq [4]byte
		binary.LittleEndian.PutUint32(seq[:], uint32(i))
		_ = writeFrame(conn, frame{more: true, body: []byte("rawtx")})
		_ = writeFrame(conn, frame{body: []byte("ignored")})
		_ = writeFrame(conn, frame{more: true, body: []byte("hashblock")})
		_ = writeFrame(conn, frame{more: true, body: display})
		_ = writeFrame(conn, frame{body: seq[:]})
	}
	// Hold the session open until the subscriber goes away.
	_, _ = io.Copy(io.Discard, r)
}

func TestSubscribe_DeliversBlockHashes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	want := []chainhash.Hash{chainhash.HashH([]byte("a")), chainhash.HashH([]byte("b"))}
	go publish(t, ln, want)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := make(chan Notification, len(want))
	done := make(chan error, 1)
	go func() {
		done <- Subscribe(ctx, Config{Endpoint: "tcp://" + ln.Addr().String()}, out)
	}()

	for i, h := range want {
		select {
		case n := <-out:
			if n.Hash != h || n.Seq != uint32(i) {
				t.Fatalf("notification %d: got %s/%d want %s/%d", i, n.Hash, n.Seq, h, i)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for notification %d", i)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Subscribe did not return after cancel")
	}
}

func TestSubscribe_Validation(t *testing.T) {
	ctx := context.Background()
	if err := Subscribe(ctx, Config{Endpoint: "127.0.0.1:1"}, nil); err == nil {
		t.Fatalf("expected error for nil channel")
	}
	if err := Subscribe(ctx, Config{Endpoint: "ipc:///x"}, make(chan Notification)); err == nil {
		t.Fatalf("expected error for bad endpoint")
	}
}
