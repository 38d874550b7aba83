package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func TestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Run unit tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Test(); err != nil {
				return fmt.Errorf("unit tests failed: %w", err)
			}
			return nil
		},
	}
}

func LintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Run linters",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Lint(); err != nil {
				return fmt.Errorf("lint failed: %w", err)
			}
			return nil
		},
	}
}

// simCase is one emulated controller and the family the cli must report.
type simCase struct {
	port   string
	family string
}

var simCases = []simCase{
	{"netx51", "family: netX51"},
	{"netx100", "family: netX100"},
	{"netx50", "family: netX50"},
	{"netx10", "family: netX10"},
}

// IntegrationTestCmd runs the integration-tagged tests and then drives the
// netx cli end to end against every emulated family.
func IntegrationTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integration-test",
		Short: "Run integration tests and sim-backed cli probes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := test.Integ(); err != nil {
				return fmt.Errorf("integration tests failed: %w", err)
			}
			for _, c := range simCases {
				out, err := runNetx(cmd.Context(), "probe", "--transport", "sim", "--port", c.port, "--name", "sim-"+c.port)
				if err != nil {
					return fmt.Errorf("sim probe %s: %w", c.port, err)
				}
				if !strings.Contains(out, c.family) {
					return fmt.Errorf("sim probe %s: expected %q in output:\n%s", c.port, c.family, out)
				}
				slog.Info("sim probe ok", "port", c.port)
			}
			return nil
		},
	}
}

// SimCmd passes its arguments to the netx cli with the emulated transport
// selected, e.g. `dev sim read --address 0 --length 4`.
func SimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "sim [netx command] [flags]",
		Short:              "Run the netx cli against an emulated controller",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"probe"}
			}
			family := os.Getenv("NETX_SIM_FAMILY")
			if family == "" {
				family = "netx51"
			}
			args = append(args, "--transport", "sim", "--port", family)
			out, err := runNetx(cmd.Context(), args...)
			_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	return cmd
}

func runNetx(ctx context.Context, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var out bytes.Buffer
	c := exec.CommandContext(ctx, "go", append([]string{"run", "./cmd/netx"}, args...)...)
	c.Stdout = &out
	c.Stderr = os.Stderr
	slog.Debug("running netx cli", "args", args)
	if err := c.Run(); err != nil {
		return out.String(), fmt.Errorf("netx %s: %w", strings.Join(args, " "), err)
	}
	return out.String(), nil
}
