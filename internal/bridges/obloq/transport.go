package obloq

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial and framing defaults.
const (
	// DefaultBaudRate is the OBLOQ factory UART speed.
	DefaultBaudRate = 9600

	// lineTerminator ends every frame in both directions.
	lineTerminator = '\r'

	// maxLineLength bounds a single inbound line. The module's receive
	// buffer is far smaller; anything longer is line noise.
	maxLineLength = 4096

	// defaultDialTimeout bounds TCP connects for serial-over-TCP links.
	defaultDialTimeout = 10 * time.Second
)

// Transport is the line-oriented link to the module.
//
// WriteLine sends one frame and appends the CR terminator. ReadLine blocks
// until a complete line has arrived and returns it without the terminator.
// Close unblocks a pending ReadLine.
type Transport interface {
	WriteLine(line string) error
	ReadLine() (string, error)
	Close() error
}

// Ensure StreamTransport implements Transport.
var _ Transport = (*StreamTransport)(nil)

// StreamTransport frames an io.ReadWriteCloser (serial port, TCP socket,
// pipe) into CR-terminated lines.
//
// Thread Safety:
//   - WriteLine is serialised by a send lock, so concurrent writers never
//     interleave bytes of different frames.
//   - ReadLine must only be called from one goroutine at a time.
type StreamTransport struct {
	rwc     io.ReadWriteCloser
	scanner *bufio.Scanner
	writeMu sync.Mutex
	readMu  sync.Mutex
}

// NewStreamTransport wraps a byte stream.
func NewStreamTransport(rwc io.ReadWriteCloser) *StreamTransport {
	scanner := bufio.NewScanner(rwc)
	scanner.Buffer(make([]byte, 0, 256), maxLineLength)
	scanner.Split(ScanCRLines)

	return &StreamTransport{
		rwc:     rwc,
		scanner: scanner,
	}
}

// WriteLine writes a frame followed by CR.
func (t *StreamTransport) WriteLine(line string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, lineTerminator)

	if _, err := t.rwc.Write(buf); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

// ReadLine returns the next CR-terminated line.
// It returns io.EOF once the stream has ended.
func (t *StreamTransport) ReadLine() (string, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		return "", io.EOF
	}
	return t.scanner.Text(), nil
}

// Close closes the underlying stream.
func (t *StreamTransport) Close() error {
	if err := t.rwc.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrTransport, err)
	}
	return nil
}

// ScanCRLines is a bufio.SplitFunc that splits on CR. A LF directly after
// the CR (modules that emit CRLF) is stripped from the next token.
func ScanCRLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexByte(data, lineTerminator); i >= 0 {
		return i + 1, bytes.TrimLeft(data[:i], "\n"), nil
	}

	if atEOF {
		return len(data), bytes.TrimLeft(data, "\n"), nil
	}

	return 0, nil, nil
}

// Dial opens a transport from a URL.
//
// Supported formats:
//   - "serial:///dev/ttyUSB0?baud=9600" (local UART, 8N1)
//   - "tcp://host:port" (serial-over-TCP bridge such as ser2net, or the simulator)
//
// Parameters:
//   - ctx: Context bounding the TCP dial
//   - rawURL: Transport URL
//
// Returns:
//   - Transport: Open line transport
//   - error: If the URL is invalid or the port cannot be opened
func Dial(ctx context.Context, rawURL string) (Transport, error) {
	target, err := parseTransportURL(rawURL)
	if err != nil {
		return nil, err
	}

	switch target.scheme {
	case "serial":
		port, err := serial.Open(target.address, &serial.Mode{
			BaudRate: target.baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", ErrTransport, target.address, describeSerialError(err))
		}
		return NewStreamTransport(port), nil

	default:
		dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()

		var dialer net.Dialer
		conn, err := dialer.DialContext(dialCtx, "tcp", target.address)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, target.address, err)
		}
		return NewStreamTransport(conn), nil
	}
}

// transportTarget is a parsed transport URL.
type transportTarget struct {
	scheme  string
	address string
	baud    int
}

// parseTransportURL splits a transport URL into scheme, address and baud.
func parseTransportURL(rawURL string) (transportTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return transportTarget{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	switch u.Scheme {
	case "serial":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return transportTarget{}, fmt.Errorf("%w: serial device path is empty", ErrInvalidURL)
		}

		baud := DefaultBaudRate
		if v := u.Query().Get("baud"); v != "" {
			baud, err = strconv.Atoi(v)
			if err != nil || baud <= 0 {
				return transportTarget{}, fmt.Errorf("%w: invalid baud %q", ErrInvalidURL, v)
			}
		}
		return transportTarget{scheme: "serial", address: path, baud: baud}, nil

	case "tcp":
		if u.Host == "" {
			return transportTarget{}, fmt.Errorf("%w: tcp host is empty", ErrInvalidURL)
		}
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			return transportTarget{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
		return transportTarget{scheme: "tcp", address: u.Host}, nil

	default:
		return transportTarget{}, fmt.Errorf("%w: unsupported scheme %q (use serial or tcp)", ErrInvalidURL, u.Scheme)
	}
}

// describeSerialError turns go.bug.st/serial port errors into readable text.
func describeSerialError(err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err
	}

	switch portErr.Code() {
	case serial.PortNotFound:
		return fmt.Errorf("port not found: %w", err)
	case serial.PortBusy:
		return fmt.Errorf("port busy: %w", err)
	case serial.PermissionDenied:
		return fmt.Errorf("permission denied (is the user in the dialout group?): %w", err)
	case serial.InvalidSpeed:
		return fmt.Errorf("unsupported baud rate: %w", err)
	default:
		return err
	}
}

// isStreamEnd reports whether a read error means the link is gone for good.
func isStreamEnd(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		return true
	}
	return strings.Contains(err.Error(), "use of closed")
}
