package zmq

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

var ErrEndpointInvalid = errors.New("zmq: invalid endpoint")

const (
	flagMore    = 0x01
	flagLong    = 0x02
	flagCommand = 0x04

	greetingLen = 64

	// Block notifications are tiny; anything near this size is a broken peer.
	maxFrameSize = 1 << 20
)

// ParseEndpoint accepts "tcp://host:port" or a bare "host:port".
func ParseEndpoint(endpoint string) (string, error) {
	e := strings.TrimSpace(endpoint)
	if rest, ok := strings.CutPrefix(e, "tcp://"); ok {
		e = rest
	} else if strings.Contains(e, "://") {
		return "", ErrEndpointInvalid
	}
	host, port, err := net.SplitHostPort(e)
	if err != nil || host == "" || port == "" {
		return "", ErrEndpointInvalid
	}
	return e, nil
}

// nullGreeting is a ZMTP 3.0 greeting offering the NULL mechanism as client.
func nullGreeting() [greetingLen]byte {
	var g [greetingLen]byte
	g[0] = 0xFF
	g[9] = 0x7F
	g[10] = 3
	copy(g[12:32], "NULL")
	return g
}

func checkGreeting(g []byte) error {
	if len(g) < 11 || g[0] != 0xFF || g[9] != 0x7F {
		return errors.New("zmq: peer is not speaking ZMTP")
	}
	if g[10] < 3 {
		return fmt.Errorf("zmq: peer speaks ZMTP %d, need 3", g[10])
	}
	return nil
}

type frame struct {
	command bool
	more    bool
	body    []byte
}

// readyCommand is the body of a READY command announcing socketType.
func readyCommand(socketType string) ([]byte, error) {
	if socketType == "" || len(socketType) > 255 {
		return nil, errors.New("zmq: invalid socket type")
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(len("READY")))
	buf.WriteString("READY")
	writeProperty(&buf, "Socket-Type", []byte(socketType))
	writeProperty(&buf, "Identity", nil)
	return buf.Bytes(), nil
}

func writeProperty(buf *bytes.Buffer, name string, value []byte) {
	buf.WriteByte(byte(len(name)))
	buf.WriteString(name)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(value)))
	buf.Write(value)
}

// commandName returns the name of a command frame body.
func commandName(body []byte) string {
	if len(body) == 0 || int(body[0]) >= len(body) {
		return ""
	}
	return string(body[1 : 1+int(body[0])])
}

func writeFrame(w io.Writer, f frame) error {
	if f.command && f.more {
		return errors.New("zmq: command frame cannot have more set")
	}
	var hdr [9]byte
	if f.more {
		hdr[0] |= flagMore
	}
	if f.command {
		hdr[0] |= flagCommand
	}
	n := 2
	if len(f.body) > 255 {
		hdr[0] |= flagLong
		binary.BigEndian.PutUint64(hdr[1:], uint64(len(f.body)))
		n = 9
	} else {
		hdr[1] = byte(len(f.body))
	}
	if _, err := w.Write(hdr[:n]); err != nil {
		return err
	}
	if len(f.body) == 0 {
		return nil
	}
	_, err := w.Write(f.body)
	return err
}

func readFrame(r io.Reader) (frame, error) {
	var flags [1]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return frame{}, err
	}
	f := frame{
		command: flags[0]&flagCommand != 0,
		more:    flags[0]&flagMore != 0,
	}

	var size uint64
	if flags[0]&flagLong != 0 {
		var n [8]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return frame{}, err
		}
		size = binary.BigEndian.Uint64(n[:])
	} else {
		var n [1]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return frame{}, err
		}
		size = uint64(n[0])
	}
	if size > maxFrameSize {
		return frame{}, fmt.Errorf("zmq: frame too large: %d", size)
	}
	if size == 0 {
		return f, nil
	}
	f.body = make([]byte, size)
	if _, err := io.ReadFull(r, f.body); err != nil {
		return frame{}, err
	}
	return f, nil
}

// readMessage collects one multipart message, skipping interleaved commands.
func readMessage(r io.Reader) ([][]byte, error) {
	var parts [][]byte
	for {
		f, err := readFrame(r)
		if err != nil {
			return nil, err
		}
		if f.command {
			continue
		}
		parts = append(parts, f.body)
		if !f.more {
			return parts, nil
		}
	}
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
