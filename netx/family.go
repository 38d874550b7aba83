// Package netx detects Hilscher netX communication controllers attached to an
// SPI bus and gives access to their dual-port memory.
//
// A probe issues a single discovery exchange, classifies the answer into one
// of the known chip families and from then on uses only that family's
// register read protocol. netX51/52 parts need an sDPM warm-up handshake
// before their memory reads are reliable; the probe runs it before the status
// read.
//
// Typical usage:
//
//	d := netx.NewDriver()
//	s, err := d.Probe(ctx, bus)
//	if err != nil { ... }
//	defer d.Teardown(ctx, s)
//	fmt.Println(s.Family().Name, s.Outcome().Status)
package netx

import (
	"context"
	"log/slog"

	"github.com/mklimuk/fieldbus"
)

// InitFunc runs a family's warm-up handshake and returns the identity cookie.
type InitFunc func(ctx context.Context, s *Session) (string, error)

// ReadFunc reads len(buf) bytes of dual-port memory starting at address.
// Arguments are validated by the caller.
type ReadFunc func(ctx context.Context, s *Session, address uint32, buf []byte) error

// Family describes one netX chip family and the protocol it speaks.
// Init and Read are nil when the family does not need or support them.
type Family struct {
	Name string
	Init InitFunc
	Read ReadFunc
}

func (f *Family) String() string {
	return f.Name
}

// SupportsRead reports whether the family has a register read protocol.
func (f *Family) SupportsRead() bool {
	return f.Read != nil
}

var (
	NetX10  = &Family{Name: "netX10"}
	NetX50  = &Family{Name: "netX50"}
	NetX100 = &Family{Name: "netX100"}
	NetX51  = &Family{Name: "netX51", Init: initNetX51, Read: readNetX51}
)

// Families lists all known families.
var Families = []*Family{NetX10, NetX50, NetX100, NetX51}

// discovery command; the fourth byte only pads the exchange to 4 bytes
var discoveryCommand = [4]byte{0x00, 0xFF, 0x84, 0x00}

const netX51Mask = 0b00011111

type rule struct {
	family *Family
	match  func(r [3]byte) bool
}

// rules are evaluated in order, the first match wins
var rules = []rule{
	{NetX10, func(r [3]byte) bool { return r[0] == 0x00 && r[1] == 0x00 && r[2] == 0x00 }},
	{NetX50, func(r [3]byte) bool { return r[0] == 0xFF && r[1] == 0xFF && r[2] == 0xFF }},
	{NetX51, func(r [3]byte) bool { return r[0]&netX51Mask == 0x11 }},
	{NetX100, func(r [3]byte) bool { return r[0] == 0x64 }},
}

// Classify maps the first three bytes of a discovery response to a family.
func Classify(response [3]byte) (*Family, error) {
	for _, r := range rules {
		if r.match(response) {
			return r.family, nil
		}
	}
	return nil, &UnrecognizedFamilyError{Response: response}
}

// Identify runs the discovery exchange on bus and classifies the answer.
// It never retries.
func Identify(ctx context.Context, bus fieldbus.SPIBus) (*Family, error) {
	return identify(ctx, bus, slog.Default())
}

func identify(ctx context.Context, bus fieldbus.SPIBus, log *slog.Logger) (*Family, error) {
	tx := discoveryCommand
	rx := make([]byte, len(tx))
	err := bus.Exchange(ctx, fieldbus.Segment{Out: tx[:], In: rx})
	if err != nil {
		return nil, transportError("discovery", err)
	}
	var response [3]byte
	copy(response[:], rx)
	log.Debug("discovery read", "bytes", fmtBytes(response[:]))
	family, err := Classify(response)
	if err != nil {
		log.Error("netX model not recognized", "bytes", fmtBytes(response[:]))
		return nil, err
	}
	return family, nil
}
