package command

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/fieldbus/cmd/netx/console"
	"github.com/mklimuk/fieldbus/config"
	"github.com/mklimuk/fieldbus/host"
	"github.com/mklimuk/fieldbus/netx"
)

// Report is the printable result of one device probe.
type Report struct {
	Device       string `yaml:"device"`
	Family       string `yaml:"family,omitempty"`
	Cookie       string `yaml:"cookie,omitempty"`
	Status       string `yaml:"status,omitempty"`
	NXOSupported bool   `yaml:"nxo_supported"`
	Error        string `yaml:"error,omitempty"`
}

func NewReport(b *host.Binding) Report {
	r := Report{Device: b.Device.Name}
	if b.Err != nil {
		r.Error = b.Err.Error()
		return r
	}
	att, ok := b.Attachment.(*host.NetXAttachment)
	if !ok {
		return r
	}
	out := att.Outcome()
	r.Family = out.Family.Name
	r.Cookie = out.Cookie
	r.NXOSupported = out.NXOSupported
	if out.HasStatus {
		r.Status = fmt.Sprintf("0x%08x", out.Status)
	}
	return r
}

func writeReports(w io.Writer, reports []Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(reports); err != nil {
		return err
	}
	return enc.Close()
}

var ProbeCmd = &cli.Command{
	Name:  "probe",
	Usage: "detect netX controllers and read their system status",
	Flags: DeviceFlags,
	Action: func(c *cli.Context) error {
		ctx := commandContext(c)
		devs, err := devices(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		r := newRegistry(netx.WithNXOHook(func(ctx context.Context, s *netx.Session) {
			slog.Info("NXO supported", "family", s.Family().Name)
		}))
		bindings, bindErr := r.BindAll(ctx, devs)
		defer func() {
			if err := r.UnbindAll(ctx); err != nil {
				slog.Warn("teardown failed", "error", err)
			}
		}()
		reports := make([]Report, 0, len(bindings))
		for _, b := range bindings {
			reports = append(reports, NewReport(b))
		}
		if err := writeReports(console.Writer(), reports); err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		if bindErr != nil {
			return console.Exit(2, "%d of %d devices failed", len(devs)-len(r.Bound()), len(devs))
		}
		return nil
	},
}

var IdentifyCmd = &cli.Command{
	Name:  "identify",
	Usage: "run the discovery exchange only and print the chip family",
	Flags: DeviceFlags,
	Action: func(c *cli.Context) error {
		ctx := commandContext(c)
		devs, err := devices(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		d := netx.NewDriver()
		failed := 0
		for _, dev := range devs {
			family, err := identify(ctx, d, dev)
			if err != nil {
				console.Errorf("%s: %s", dev.Name, err)
				failed++
				continue
			}
			console.PInfof(console.PictoChip, "%s: %s", dev.Name, console.Family(family.Name))
		}
		if failed > 0 {
			return console.Exit(2, "%d of %d devices not identified", failed, len(devs))
		}
		return nil
	},
}

func identify(ctx context.Context, d *netx.Driver, dev config.Device) (*netx.Family, error) {
	bus, err := host.OpenBus(dev)
	if err != nil {
		return nil, err
	}
	defer func() { _ = bus.Close() }()
	return d.Identify(ctx, bus)
}

var ReadCmd = &cli.Command{
	Name:  "read",
	Usage: "probe a device and read its dual-port memory",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "address", Aliases: []string{"a"}, Usage: "memory address", Value: "0x00C4"},
		&cli.IntFlag{Name: "length", Aliases: []string{"l"}, Usage: "number of bytes to read", Value: 4},
	}, DeviceFlags...),
	Action: func(c *cli.Context) error {
		ctx := commandContext(c)
		addr, err := parseUint(c.String("address"), 32)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		devs, err := devices(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		if len(devs) != 1 {
			return console.Exit(1, "read needs exactly one device, got %d", len(devs))
		}
		r := newRegistry()
		att, err := bindOne(ctx, r, devs[0])
		if err != nil {
			return console.Exit(2, "probe failed: %s", console.Red(err))
		}
		defer func() { _ = r.UnbindAll(ctx) }()
		data, err := att.Read(ctx, uint32(addr), c.Int("length"))
		if err != nil {
			return console.Exit(3, "read failed: %s", console.Red(err))
		}
		console.Printf("%s", hex.Dump(data))
		return nil
	},
}
