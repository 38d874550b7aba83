package main

import (
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/fieldbus/adapter"
	"github.com/mklimuk/fieldbus/busctx"
	"github.com/mklimuk/fieldbus/cmd/netx/console"
)

var mcp2210Cmd = cli.Command{
	Name:  "mcp2210",
	Usage: "MCP2210 USB-SPI bridge maintenance",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "index", Usage: "bridge enumeration index (see usb detect)", Value: -1},
	},
	Subcommands: cli.Commands{
		&mcp2210StatusCmd,
		&mcp2210SettingsCmd,
		&mcp2210ReleaseCmd,
	},
}

func bridge(c *cli.Context) *adapter.MCP2210 {
	if i := c.Int("index"); i >= 0 {
		return adapter.NewMCP2210At(i)
	}
	return adapter.NewMCP2210()
}

func encode(v interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	if err := enc.Encode(v); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return enc.Close()
}

var mcp2210StatusCmd = cli.Command{
	Name:  "status",
	Usage: "read chip status",
	Action: func(c *cli.Context) error {
		ctx := busctx.SetVerbose(c.Context, c.Bool("verbose"))
		status, err := bridge(c).Status(ctx)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return encode(status)
	},
}

var mcp2210SettingsCmd = cli.Command{
	Name:  "settings",
	Usage: "read current SPI transfer settings",
	Action: func(c *cli.Context) error {
		ctx := busctx.SetVerbose(c.Context, c.Bool("verbose"))
		settings, err := bridge(c).TransferSettings(ctx)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return encode(settings)
	},
}

var mcp2210ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the ongoing transfer and release the SPI bus",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		if !c.Bool("yes") {
			answer, err := console.YesOrNo("abort any transfer in progress?")
			if err != nil {
				return console.Exit(1, "prompt error: %s", console.Red(err))
			}
			if answer != console.Yes {
				console.PInfof(console.PictoStop, "release cancelled")
				return nil
			}
		}
		ctx := busctx.SetVerbose(c.Context, c.Bool("verbose"))
		status, err := bridge(c).ReleaseBus(ctx)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return encode(status)
	},
}
