package command

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/fieldbus/cmd/netx/console"
	"github.com/mklimuk/fieldbus/netx"
)

var errQuit = errors.New("quit")

// sessionReader is the part of a probed netX session the shell uses.
type sessionReader interface {
	Read(ctx context.Context, address uint32, length int) ([]byte, error)
	ReadUint32(ctx context.Context, address uint32) (uint32, error)
	Outcome() netx.Outcome
	LastStatus() byte
}

// Shell executes interactive commands against one probed device.
type Shell struct {
	session sessionReader
	out     io.Writer
}

func NewShell(s sessionReader, out io.Writer) *Shell {
	return &Shell{session: s, out: out}
}

const shellHelp = `commands:
  read <address> <length>   hex dump of dual-port memory
  status                    system status register
  cookie                    identity cookie read at init
  family                    detected chip family
  exit                      leave the shell`

// Exec runs one command line. It returns errQuit on exit.
func (sh *Shell) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "help", "?":
		_, _ = fmt.Fprintln(sh.out, shellHelp)
	case "exit", "quit":
		return errQuit
	case "family":
		_, _ = fmt.Fprintln(sh.out, sh.session.Outcome().Family.Name)
	case "cookie":
		_, _ = fmt.Fprintln(sh.out, sh.session.Outcome().Cookie)
	case "status":
		status, err := sh.session.ReadUint32(ctx, netx.RegSystemStatus)
		if err != nil {
			return err
		}
		nxo := status&netx.StatusNXOSupported != 0
		_, _ = fmt.Fprintf(sh.out, "status = %08x nxo=%t\n", status, nxo)
	case "read":
		if len(fields) != 3 {
			return fmt.Errorf("usage: read <address> <length>")
		}
		addr, err := parseUint(fields[1], 32)
		if err != nil {
			return err
		}
		length, err := parseUint(fields[2], 16)
		if err != nil {
			return err
		}
		data, err := sh.session.Read(ctx, uint32(addr), int(length))
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(sh.out, "sdpm status %02x\n%s", sh.session.LastStatus(), hex.Dump(data))
	default:
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return nil
}

// Run reads commands until exit or EOF.
func (sh *Shell) Run(ctx context.Context, rl *readline.Instance) error {
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		err = sh.Exec(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			_, _ = fmt.Fprint(sh.out, console.Format(err))
		}
	}
}

var ShellCmd = &cli.Command{
	Name:  "shell",
	Usage: "probe a device and open an interactive memory shell",
	Flags: DeviceFlags,
	Action: func(c *cli.Context) error {
		ctx := commandContext(c)
		devs, err := devices(c)
		if err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		if len(devs) != 1 {
			return console.Exit(1, "shell needs exactly one device, got %d", len(devs))
		}
		r := newRegistry()
		att, err := bindOne(ctx, r, devs[0])
		if err != nil {
			return console.Exit(2, "probe failed: %s", console.Red(err))
		}
		defer func() { _ = r.UnbindAll(ctx) }()

		rl, err := readline.NewEx(&readline.Config{
			Prompt:          fmt.Sprintf("%s> ", devs[0].Name),
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
			AutoComplete: readline.NewPrefixCompleter(
				readline.PcItem("read"),
				readline.PcItem("status"),
				readline.PcItem("cookie"),
				readline.PcItem("family"),
				readline.PcItem("help"),
				readline.PcItem("exit"),
			),
		})
		if err != nil {
			return console.Exit(1, "terminal error: %s", console.Red(err))
		}
		defer func() { _ = rl.Close() }()
		console.PInfof(console.PictoChip, "%s (%s), type help for commands", devs[0].Name, att.Family().Name)
		return NewShell(att, rl.Stdout()).Run(ctx, rl)
	},
}
