package netx

import (
	"context"
	"fmt"

	"github.com/mklimuk/fieldbus"
)

// netX51 serial DPM framing
const (
	// MaxAddress is the highest dual-port memory address reachable over sDPM.
	MaxAddress = 0xFFFFF
	MaxLength  = 0xFF

	sdpmReadMarker   = 0x80
	sdpmAddrHighMask = 0x0F
	sdpmHeaderLen    = 4
)

// ReadRequest is a logical read of Length bytes starting at Address.
type ReadRequest struct {
	Address uint32
	Length  int
}

func (r ReadRequest) validate() error {
	if r.Address > MaxAddress {
		return fmt.Errorf("%w: address %#x exceeds %#x", ErrInvalidArgument, r.Address, MaxAddress)
	}
	if r.Length < 1 || r.Length > MaxLength {
		return fmt.Errorf("%w: length %d out of range 1..%d", ErrInvalidArgument, r.Length, MaxLength)
	}
	return nil
}

// Encode builds the 4-byte sDPM read command: the top address nibble with
// the read marker in bit 7, the remaining 16 address bits big-endian and the
// byte count.
func (r ReadRequest) Encode() ([sdpmHeaderLen]byte, error) {
	var cmd [sdpmHeaderLen]byte
	if err := r.validate(); err != nil {
		return cmd, err
	}
	cmd[0] = byte((r.Address>>16)&sdpmAddrHighMask) | sdpmReadMarker
	cmd[1] = byte(r.Address >> 8)
	cmd[2] = byte(r.Address)
	cmd[3] = byte(r.Length)
	return cmd, nil
}

// DecodeReadRequest parses a command produced by Encode.
func DecodeReadRequest(cmd []byte) (ReadRequest, error) {
	if len(cmd) != sdpmHeaderLen {
		return ReadRequest{}, fmt.Errorf("%w: command length %d", ErrInvalidArgument, len(cmd))
	}
	if cmd[0]&sdpmReadMarker == 0 {
		return ReadRequest{}, fmt.Errorf("%w: read marker not set in %#02x", ErrInvalidArgument, cmd[0])
	}
	r := ReadRequest{
		Address: uint32(cmd[0]&sdpmAddrHighMask)<<16 | uint32(cmd[1])<<8 | uint32(cmd[2]),
		Length:  int(cmd[3]),
	}
	return r, r.validate()
}

// readNetX51 sends the command and collects the data in one chip-select
// cycle. The first byte shifted in with the command is the sDPM status.
func readNetX51(ctx context.Context, s *Session, address uint32, buf []byte) error {
	cmd, err := ReadRequest{Address: address, Length: len(buf)}.Encode()
	if err != nil {
		return err
	}
	status := make([]byte, sdpmHeaderLen)
	err = s.bus.Exchange(ctx,
		fieldbus.Segment{Out: cmd[:], In: status},
		fieldbus.Segment{In: buf},
	)
	if err != nil {
		return transportError(fmt.Sprintf("sdpm read %#05x", address), err)
	}
	s.lastStatus = status[0]
	s.log.Debug("read status", "status", fmt.Sprintf("%02x", status[0]))
	return nil
}

type handshakeStep func(ctx context.Context, s *Session) error

func dummyRead(ctx context.Context, s *Session) error {
	return readNetX51(ctx, s, 0x0, make([]byte, 1))
}

// initNetX51 primes the sDPM controller with two dummy reads and then reads
// the 4-byte identity cookie at address 0.
func initNetX51(ctx context.Context, s *Session) (string, error) {
	cookie := make([]byte, 4)
	steps := []handshakeStep{
		dummyRead,
		dummyRead,
		func(ctx context.Context, s *Session) error {
			return readNetX51(ctx, s, 0x0, cookie)
		},
	}
	for i, step := range steps {
		if err := step(ctx, s); err != nil {
			return "", fmt.Errorf("sdpm init step %d: %w", i+1, err)
		}
	}
	tag := cookieString(cookie)
	s.log.Info("abCookie = " + tag)
	return tag, nil
}

// cookieString renders the cookie as a C string would: up to the first NUL.
func cookieString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func fmtBytes(b []byte) string {
	return fmt.Sprintf("% x", b)
}
