package command

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/fieldbus/busctx"
	"github.com/mklimuk/fieldbus/config"
	"github.com/mklimuk/fieldbus/host"
	"github.com/mklimuk/fieldbus/netx"
)

// DeviceFlags select a single device on the command line. --config takes
// precedence and loads every node from a file.
var DeviceFlags = []cli.Flag{
	&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "device configuration file"},
	&cli.StringFlag{Name: "name", Usage: "device node name", Value: "netx0"},
	&cli.StringFlag{Name: "transport", Aliases: []string{"t"}, Usage: "periph, gobot, mcp2210 or sim", Value: string(config.TransportPeriph)},
	&cli.StringFlag{Name: "port", Aliases: []string{"p"}, Usage: "SPI port (periph name, gobot bus number or MCP2210 index)"},
	&cli.Int64Flag{Name: "speed", Usage: "SPI clock in Hz", Value: config.DefaultSpeed},
	&cli.IntFlag{Name: "mode", Usage: "SPI mode", Value: 3},
	&cli.IntFlag{Name: "cs", Usage: "chip select"},
}

// devices returns the nodes selected by DeviceFlags.
func devices(c *cli.Context) ([]config.Device, error) {
	if path := c.String("config"); path != "" {
		f, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		return f.Devices, nil
	}
	mode := c.Int("mode")
	dev := config.Device{
		Name:       c.String("name"),
		Compatible: netx.Compatible,
		Transport:  config.Transport(c.String("transport")),
		Port:       c.String("port"),
		SpeedHz:    c.Int64("speed"),
		Mode:       &mode,
		ChipSelect: c.Int("cs"),
	}
	if err := dev.Validate(); err != nil {
		return nil, err
	}
	return []config.Device{dev}, nil
}

func commandContext(c *cli.Context) context.Context {
	return busctx.SetVerbose(c.Context, c.Bool("verbose"))
}

// newRegistry returns a registry with the netx driver registered.
func newRegistry(opts ...netx.DriverOpt) *host.Registry {
	r := host.NewRegistry(host.OpenBus)
	// a fresh registry cannot hold a duplicate
	_ = r.Register(host.NetX(netx.NewDriver(opts...)))
	return r
}

// bindOne probes a single device and returns its session.
func bindOne(ctx context.Context, r *host.Registry, dev config.Device) (*host.NetXAttachment, error) {
	bindings, err := r.BindAll(ctx, []config.Device{dev})
	if err != nil {
		return nil, err
	}
	att, ok := bindings[0].Attachment.(*host.NetXAttachment)
	if !ok {
		return nil, fmt.Errorf("device %s is not a netX controller", dev.Name)
	}
	return att, nil
}

// parseUint accepts decimal, 0x hex and 0b binary notation.
func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return v, nil
}
