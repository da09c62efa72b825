package probe

import (
	"bufio"
	"context"
	"io"
)

// Lines reads newline-terminated commands from a blocking reader.
type Lines struct {
	sc *bufio.Scanner
}

func NewLines(r io.Reader) *Lines { return &Lines{sc: bufio.NewScanner(r)} }

func (l *Lines) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !l.sc.Scan() {
		if err := l.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return l.sc.Text(), nil
}

// Port is a serial port with a context-aware receive, as uartx provides.
type Port interface {
	RecvSomeContext(ctx context.Context, buf []byte) (int, error)
	Write(b []byte) (int, error)
}

// SerialLines assembles lines from a serial port, echoing input and
// handling backspace the way a terminal user expects.
type SerialLines struct {
	port Port
	rx   [32]byte
	line []byte
	rest []byte
}

// maxLine bounds a command line; longer input is cut.
const maxLine = 80

func NewSerialLines(p Port) *SerialLines {
	return &SerialLines{port: p, line: make([]byte, 0, maxLine)}
}

func (s *SerialLines) ReadLine(ctx context.Context) (string, error) {
	for {
		for len(s.rest) > 0 {
			c := s.rest[0]
			s.rest = s.rest[1:]
			switch c {
			case '\r', '\n':
				if len(s.line) == 0 && c == '\n' {
					continue // second half of CRLF
				}
				_, _ = s.port.Write([]byte("\r\n"))
				out := string(s.line)
				s.line = s.line[:0]
				return out, nil
			case 0x08, 0x7F:
				if len(s.line) > 0 {
					s.line = s.line[:len(s.line)-1]
					_, _ = s.port.Write([]byte("\b \b"))
				}
			default:
				if len(s.line) < maxLine {
					s.line = append(s.line, c)
					_, _ = s.port.Write([]byte{c})
				}
			}
		}
		n, err := s.port.RecvSomeContext(ctx, s.rx[:])
		if err != nil {
			return "", err
		}
		s.rest = s.rx[:n]
	}
}
