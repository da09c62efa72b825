// Package shtp implements the Sensor Hub Transport Protocol framing used
// by the BNO08x family: a 4-byte header (15-bit length with a
// continuation flag, channel, per-channel sequence) followed by payload.
//
// The codec never allocates. Callers own the buffers.
package shtp

import (
	"encoding/binary"

	"imuglasses/errcode"
)

const (
	HeaderSize = 4

	// Length field layout.
	ContinuationFlag = 0x8000
	LengthMask       = 0x7FFF

	// MaxPacket is the largest length the 15-bit field can carry.
	// The same value, read as a length, marks an idle bus.
	MaxPacket = LengthMask - 1
)

// Channel is one of the six fixed SHTP channels.
type Channel uint8

const (
	ChannelCommand     Channel = 0 // SHTP command/advertisement
	ChannelExecutable  Channel = 1 // reset, on, sleep
	ChannelControl     Channel = 2 // SH-2 control
	ChannelReports     Channel = 3 // input sensor reports
	ChannelWakeReports Channel = 4 // wake input sensor reports
	ChannelGyroRV      Channel = 5 // gyro-integrated rotation vector

	NumChannels = 6
)

func (c Channel) String() string {
	switch c {
	case ChannelCommand:
		return "command"
	case ChannelExecutable:
		return "executable"
	case ChannelControl:
		return "control"
	case ChannelReports:
		return "reports"
	case ChannelWakeReports:
		return "wake"
	case ChannelGyroRV:
		return "gyro-rv"
	}
	return "invalid"
}

// Valid reports whether c names one of the six channels.
func (c Channel) Valid() bool { return c < NumChannels }

// Header is a decoded SHTP header.
type Header struct {
	Length       uint16 // total packet length including the header
	Continuation bool
	Channel      Channel
	Sequence     uint8
}

// Empty reports the "no data available" lengths (0 and the all-ones value).
func (h Header) Empty() bool { return h.Length == 0 || h.Length == LengthMask }

// PayloadLen is the number of bytes after the header.
func (h Header) PayloadLen() int {
	if h.Empty() {
		return 0
	}
	return int(h.Length) - HeaderSize
}

// Put encodes h into b[:4]. The continuation bit is never set on output.
func (h Header) Put(b []byte) {
	_ = b[3]
	binary.LittleEndian.PutUint16(b, h.Length&LengthMask)
	b[2] = byte(h.Channel)
	b[3] = h.Sequence
}

// ParseHeader decodes the first four bytes of b.
// An idle length (0 or all-ones) returns a Header with Empty() true and a
// nil error. A length shorter than the header itself is a framing error.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errcode.InvalidData
	}
	raw := binary.LittleEndian.Uint16(b)
	h := Header{
		Length:       raw & LengthMask,
		Continuation: raw&ContinuationFlag != 0,
		Channel:      Channel(b[2]),
		Sequence:     b[3],
	}
	if h.Empty() {
		return h, nil
	}
	if h.Length < HeaderSize {
		return h, errcode.InvalidData
	}
	return h, nil
}

// Packet is a parsed packet. Payload aliases the parsed buffer.
type Packet struct {
	Header
	Payload []byte
}

// Parse decodes a full packet held in b. The announced length must fit
// in b; trailing bytes past the announced length are ignored.
func Parse(b []byte) (Packet, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Packet{Header: h}, err
	}
	if h.Empty() {
		return Packet{Header: h}, nil
	}
	if int(h.Length) > len(b) {
		return Packet{Header: h}, errcode.InvalidData
	}
	return Packet{Header: h, Payload: b[HeaderSize:h.Length]}, nil
}

// Sequencer holds the per-channel transmit sequence numbers.
// The zero value starts every channel at 0.
type Sequencer [NumChannels]uint8

// Next returns the current sequence for ch and advances it (mod 256).
func (s *Sequencer) Next(ch Channel) uint8 {
	v := s[ch]
	s[ch]++
	return v
}

// Peek returns the sequence the next packet on ch will carry.
func (s *Sequencer) Peek(ch Channel) uint8 { return s[ch] }

// Build writes one packet for ch into dst and returns its length.
// On error nothing is consumed: dst is untouched and the sequence for ch
// does not advance.
func Build(dst []byte, ch Channel, seq *Sequencer, payload []byte) (int, error) {
	if !ch.Valid() {
		return 0, errcode.InvalidParams
	}
	n := len(payload) + HeaderSize
	if n > len(dst) || n > MaxPacket {
		return 0, errcode.BufferOverflow
	}
	Header{Length: uint16(n), Channel: ch, Sequence: seq.Next(ch)}.Put(dst)
	copy(dst[HeaderSize:n], payload)
	return n, nil
}
