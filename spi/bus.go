package spi

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/fieldbus"
	"github.com/mklimuk/fieldbus/busctx"
)

var _ fieldbus.SPIBusCloser = &GenericBus{}

type Opts struct {
	Speed physic.Frequency
	Mode  spi.Mode
	Bits  int
}

type Opt func(*Opts)

func WithSpeed(f physic.Frequency) Opt {
	return func(o *Opts) {
		o.Speed = f
	}
}

func WithMode(m spi.Mode) Opt {
	return func(o *Opts) {
		o.Mode = m
	}
}

func defaultOpts() Opts {
	return Opts{
		Speed: 1 * physic.MegaHertz,
		Mode:  spi.Mode3,
		Bits:  8,
	}
}

// GenericBus is an SPI port opened through periph.io host drivers.
type GenericBus struct {
	port spi.PortCloser
	conn spi.Conn
}

// NewGenericBus initializes the host drivers and opens the named port
// (e.g. "SPI0.0" or "/dev/spidev0.0"; empty string picks the first one).
func NewGenericBus(dev string, opts ...Opt) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	port, err := spireg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open spi port: %w", err)
	}
	b, err := Connect(port, opts...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return b, nil
}

// Connect configures an already opened port.
func Connect(port spi.PortCloser, opts ...Opt) (*GenericBus, error) {
	config := defaultOpts()
	for _, opt := range opts {
		opt(&config)
	}
	conn, err := port.Connect(config.Speed, config.Mode, config.Bits)
	if err != nil {
		return nil, fmt.Errorf("could not connect to spi port %s: %w", port, err)
	}
	return &GenericBus{port: port, conn: conn}, nil
}

// Exchange runs a single segment as one full-duplex Tx and chains several
// segments as packets with CS held between them.
func (b *GenericBus) Exchange(ctx context.Context, segments ...fieldbus.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	verbose := busctx.IsVerbose(ctx)
	if len(segments) == 1 {
		s := segments[0]
		w := make([]byte, s.Len())
		copy(w, s.Out)
		r := make([]byte, len(w))
		if verbose {
			slog.Debug("spi tx", "node", busctx.Node(ctx), "frame", hex.EncodeToString(w))
		}
		if err := b.conn.Tx(w, r); err != nil {
			return fmt.Errorf("spi transfer failed: %w", err)
		}
		copy(s.In, r)
		if verbose {
			slog.Debug("spi rx", "node", busctx.Node(ctx), "frame", hex.EncodeToString(r))
		}
		return nil
	}
	packets := make([]spi.Packet, len(segments))
	for i, s := range segments {
		w := make([]byte, s.Len())
		copy(w, s.Out)
		packets[i] = spi.Packet{W: w, R: make([]byte, len(w)), KeepCS: i < len(segments)-1}
		if verbose {
			slog.Debug("spi tx packet", "node", busctx.Node(ctx), "index", i, "frame", hex.EncodeToString(w))
		}
	}
	if err := b.conn.TxPackets(packets); err != nil {
		return fmt.Errorf("spi packet transfer failed: %w", err)
	}
	for i, s := range segments {
		copy(s.In, packets[i].R)
		if verbose {
			slog.Debug("spi rx packet", "node", busctx.Node(ctx), "index", i, "frame", hex.EncodeToString(packets[i].R))
		}
	}
	return nil
}

func (b *GenericBus) String() string {
	return b.port.String()
}

func (b *GenericBus) Close() error {
	return b.port.Close()
}
