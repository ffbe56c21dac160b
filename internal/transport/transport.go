// Package transport opens the byte link to the board: a serial device or a
// TCP/UDP endpoint of a serial server.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"
)

const DefaultBaud = 115200

// Port is an open link. Serial ports implement SetReadTimeout; network
// connections implement the net.Conn deadline methods.
type Port interface {
	io.ReadWriteCloser
}

// Spec is a parsed port specification.
type Spec struct {
	Scheme string // serial, tcp or udp
	Path   string // device path or host:port
	Baud   int
}

func (s Spec) String() string {
	if s.Scheme == "serial" {
		return fmt.Sprintf("serial://%s?baud=%d", s.Path, s.Baud)
	}
	return s.Scheme + "://" + s.Path
}

// Parse accepts
//
//	/dev/ttyUSB0                  serial at the default baud
//	serial:///dev/ttyUSB0?baud=N  serial
//	auto                          first /dev/ttyUSB* or /dev/ttyACM* present
//	tcp://host:port
//	udp://host:port
func Parse(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Spec{}, errors.New("port is empty")
	}
	if raw == "auto" {
		return Spec{Scheme: "serial", Path: "auto", Baud: DefaultBaud}, nil
	}
	if !strings.Contains(raw, "://") {
		return Spec{Scheme: "serial", Path: raw, Baud: DefaultBaud}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Spec{}, fmt.Errorf("parse port %q: %w", raw, err)
	}
	switch u.Scheme {
	case "serial":
		s := Spec{Scheme: "serial", Path: u.Path, Baud: DefaultBaud}
		if s.Path == "" {
			s.Path = u.Host
		}
		if s.Path == "" {
			return Spec{}, fmt.Errorf("port %q: device path is required", raw)
		}
		if b := u.Query().Get("baud"); b != "" {
			n, err := strconv.Atoi(b)
			if err != nil || n <= 0 {
				return Spec{}, fmt.Errorf("port %q: invalid baud %q", raw, b)
			}
			s.Baud = n
		}
		return s, nil
	case "tcp", "udp":
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			return Spec{}, fmt.Errorf("port %q: %w", raw, err)
		}
		return Spec{Scheme: u.Scheme, Path: u.Host}, nil
	default:
		return Spec{}, fmt.Errorf("port %q: unsupported scheme %q", raw, u.Scheme)
	}
}

// openSerial is replaced in tests.
var openSerial = func(path string, baud int) (Port, error) {
	return serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// Open parses raw and connects. Serial ports are opened 8N1.
func Open(ctx context.Context, raw string) (Port, error) {
	s, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return OpenSpec(ctx, s)
}

func OpenSpec(ctx context.Context, s Spec) (Port, error) {
	switch s.Scheme {
	case "serial":
		path := s.Path
		if path == "auto" {
			path = autoDetectDevice()
			if path == "" {
				return nil, errors.New("serial auto-detect failed: no /dev/ttyUSB* or /dev/ttyACM* found")
			}
		}
		p, err := openSerial(path, s.Baud)
		if err != nil {
			return nil, fmt.Errorf("open serial %s baud=%d: %w", path, s.Baud, err)
		}
		return p, nil
	case "tcp", "udp":
		d := net.Dialer{Timeout: 5 * time.Second}
		c, err := d.DialContext(ctx, s.Scheme, s.Path)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", s, err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unsupported scheme %q", s.Scheme)
}

func autoDetectDevice() string {
	var candidates []string
	for _, prefix := range []string{"/dev/ttyUSB", "/dev/ttyACM"} {
		for i := 0; i < 10; i++ {
			candidates = append(candidates, fmt.Sprintf("%s%d", prefix, i))
		}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Ports lists the serial devices present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
