// Package sim emulates netX controllers behind a fieldbus.SPIBus so drivers
// and tools can run without hardware.
package sim

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/mklimuk/fieldbus"
	"github.com/mklimuk/fieldbus/netx"
)

var _ fieldbus.SPIBusCloser = &NetX{}

// FaultFunc is called before every exchange with its 1-based ordinal. A
// non-nil error fails the exchange without touching the buffers.
type FaultFunc func(ctx context.Context, n int) error

// Discovery answers of the known families.
var (
	DiscoveryNetX10  = [3]byte{0x00, 0x00, 0x00}
	DiscoveryNetX50  = [3]byte{0xFF, 0xFF, 0xFF}
	DiscoveryNetX100 = [3]byte{0x64, 0x00, 0x00}
	DiscoveryNetX51  = [3]byte{0x11, 0x22, 0x33}
)

type Opt func(*NetX)

// WithFault installs a fault behavior.
func WithFault(f FaultFunc) Opt {
	return func(n *NetX) {
		n.fault = f
	}
}

// WithStatusByte sets the sDPM status byte shifted out with every read
// command.
func WithStatusByte(b byte) Opt {
	return func(n *NetX) {
		n.statusByte = b
	}
}

// NetX is an emulated controller. Discovery exchanges are answered with the
// configured bytes; sDPM read commands are served from a 1 MiB memory image.
type NetX struct {
	mx         sync.Mutex
	discovery  [3]byte
	memory     []byte
	statusByte byte
	fault      FaultFunc
	exchanges  int
	reads      []netx.ReadRequest
	closed     bool
}

func NewNetX(discovery [3]byte, opts ...Opt) *NetX {
	n := &NetX{
		discovery: discovery,
		memory:    make([]byte, netx.MaxAddress+1),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewNetX51 returns a netX51 with the "netX" cookie at address 0 and status
// at the system status register.
func NewNetX51(status uint32, opts ...Opt) *NetX {
	n := NewNetX(DiscoveryNetX51, opts...)
	n.Store(0, []byte("netX"))
	n.StoreUint32(netx.RegSystemStatus, status)
	return n
}

// ForFamily builds an emulator by family name ("netx51", "netX100", ...).
// netX51 parts report NXO support.
func ForFamily(name string) (*NetX, error) {
	switch strings.ToLower(name) {
	case "", "netx51", "netx52":
		return NewNetX51(netx.StatusNXOSupported | 0x1), nil
	case "netx10":
		return NewNetX(DiscoveryNetX10), nil
	case "netx50":
		return NewNetX(DiscoveryNetX50), nil
	case "netx100":
		return NewNetX(DiscoveryNetX100), nil
	default:
		return nil, fmt.Errorf("no emulation for %q", name)
	}
}

// Store writes data into the memory image at address. Bytes past
// netx.MaxAddress are dropped.
func (n *NetX) Store(address uint32, data []byte) {
	n.mx.Lock()
	defer n.mx.Unlock()
	if address > netx.MaxAddress {
		return
	}
	copy(n.memory[address:], data)
}

func (n *NetX) StoreUint32(address uint32, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	n.Store(address, buf[:])
}

// Exchanges returns the number of exchanges seen so far.
func (n *NetX) Exchanges() int {
	n.mx.Lock()
	defer n.mx.Unlock()
	return n.exchanges
}

// Reads returns the decoded sDPM read commands in arrival order.
func (n *NetX) Reads() []netx.ReadRequest {
	n.mx.Lock()
	defer n.mx.Unlock()
	return append([]netx.ReadRequest(nil), n.reads...)
}

func (n *NetX) Closed() bool {
	n.mx.Lock()
	defer n.mx.Unlock()
	return n.closed
}

func (n *NetX) Exchange(ctx context.Context, segments ...fieldbus.Segment) error {
	n.mx.Lock()
	defer n.mx.Unlock()
	if n.closed {
		return fmt.Errorf("emulated bus closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n.exchanges++
	if n.fault != nil {
		if err := n.fault(ctx, n.exchanges); err != nil {
			return err
		}
	}
	if len(segments) == 0 {
		return nil
	}
	first := segments[0]
	switch {
	case bytes.HasPrefix(first.Out, []byte{0x00, 0xFF, 0x84}):
		copy(first.In, n.discovery[:])
	case len(first.Out) == 4 && first.Out[0]&0x80 != 0 && len(segments) == 2:
		req, err := netx.DecodeReadRequest(first.Out)
		if err != nil {
			return err
		}
		n.reads = append(n.reads, req)
		if len(first.In) > 0 {
			first.In[0] = n.statusByte
		}
		copy(segments[1].In, n.memory[req.Address:])
	}
	return nil
}

func (n *NetX) Close() error {
	n.mx.Lock()
	defer n.mx.Unlock()
	n.closed = true
	return nil
}
