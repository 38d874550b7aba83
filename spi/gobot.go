package spi

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	gobotspi "gobot.io/x/gobot/v2/drivers/spi"

	"github.com/mklimuk/fieldbus"
	"github.com/mklimuk/fieldbus/busctx"
)

var _ fieldbus.SPIBusCloser = &GobotBus{}

// fullDuplexer is the subset of the gobot SPI connection used by GobotBus.
// ReadCommandData clocks command out while shifting the same number of
// bytes into data.
type fullDuplexer interface {
	ReadCommandData(command []byte, data []byte) error
}

// GobotBus drives the SPI port of any gobot adaptor implementing
// spi.Connector (e.g. nanopi.NewNeoAdaptor()). All segments of an exchange
// are flattened into one full-duplex transfer so CS is asserted once.
//
// Example usage:
//
//	adaptor := nanopi.NewNeoAdaptor()
//	b := spi.NewGobotBus(adaptor, "netx", gobotspi.WithBusNumber(0), gobotspi.WithChipNumber(0))
//	if err := b.Start(); err != nil { log.Fatal(err) }
//	defer b.Close()
type GobotBus struct {
	*gobotspi.Driver
	conn fullDuplexer
}

func NewGobotBus(adaptor gobotspi.Connector, name string, opts ...func(gobotspi.Config)) *GobotBus {
	d := gobotspi.NewDriver(adaptor, name)

	// netX sDPM defaults: mode 3 and a conservative clock, both overridable
	d.SetMode(3)
	d.SetSpeed(1_000_000)
	for _, opt := range opts {
		opt(d)
	}
	return &GobotBus{Driver: d}
}

// Start establishes the SPI connection.
func (b *GobotBus) Start() error {
	if err := b.Driver.Start(); err != nil {
		return fmt.Errorf("gobot spi start: %w", err)
	}
	conn, ok := b.Driver.Connection().(fullDuplexer)
	if !ok {
		_ = b.Driver.Halt()
		return fmt.Errorf("spi connection does not support full-duplex transfers")
	}
	b.conn = conn
	return nil
}

func (b *GobotBus) Close() error {
	return b.Driver.Halt()
}

func (b *GobotBus) Exchange(ctx context.Context, segments ...fieldbus.Segment) error {
	if b == nil || b.conn == nil {
		return fmt.Errorf("spi driver not started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := fieldbus.Flatten(segments)
	rx := make([]byte, len(tx))
	verbose := busctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("gobot spi tx", "node", busctx.Node(ctx), "frame", hex.EncodeToString(tx))
	}
	if err := b.conn.ReadCommandData(tx, rx); err != nil {
		return fmt.Errorf("gobot spi transfer failed: %w", err)
	}
	if verbose {
		slog.Debug("gobot spi rx", "node", busctx.Node(ctx), "frame", hex.EncodeToString(rx))
	}
	fieldbus.Scatter(rx, segments)
	return nil
}
