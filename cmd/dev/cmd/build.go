package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

// boards maps known SPI hosts to their GOOS/GOARCH.
var boards = map[string][2]string{
	"nanopi-neo": {"linux", "arm"},
	"rpi4":       {"linux", "arm64"},
}

// netx links karalabe/hid, so every build needs cgo; foreign targets go
// through the cross-compiling build image.
func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the netx cli into dist/",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			version, err := flags.GetString("version")
			if err != nil {
				return fmt.Errorf("could not get version flag: %w", err)
			}
			board, err := flags.GetString("board")
			if err != nil {
				return fmt.Errorf("could not get board flag: %w", err)
			}
			noCache, err := flags.GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			inContainer, err := flags.GetBool("in-container")
			if err != nil {
				return fmt.Errorf("could not get in-container flag: %w", err)
			}

			goos, goarch := runtime.GOOS, runtime.GOARCH
			if board != "" {
				target, ok := boards[board]
				if !ok {
					return fmt.Errorf("unknown board %q", board)
				}
				goos, goarch = target[0], target[1]
			}
			out := "dist/netx"
			if board != "" {
				out = fmt.Sprintf("dist/netx-%s", board)
			}

			native := goos == runtime.GOOS && goarch == runtime.GOARCH
			if native || inContainer {
				return build.GoBuild(out, "./cmd/netx", build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: "main",
					EnableCgo:     true,
					Arch:          goarch,
					OS:            goos,
				})
			}
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", goos, goarch),
				[]string{"build", "--version", version, "--board", board, "--in-container"},
				build.DockerBuildOpts{
					NoCache: noCache,
					Image:   "gophertribe/gobuild:1.25-bookworm",
				})
		},
	}
	cmd.Flags().String("version", "latest", "version injected into the cli")
	cmd.Flags().String("board", "", "target board (nanopi-neo, rpi4); empty builds for this host")
	cmd.Flags().Bool("no-cache", false, "do not use the docker build cache")
	cmd.Flags().Bool("in-container", false, "build directly, set when running inside the build image")

	return cmd
}
