package console

import "github.com/fatih/color"

// Palette used by the netx cli; color is disabled automatically when
// stdout is not a terminal.
var (
	Red    = color.New(color.FgRed).SprintFunc()
	Yellow = color.New(color.FgYellow).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
	Family = color.New(color.FgCyan, color.Bold).SprintFunc()
)
