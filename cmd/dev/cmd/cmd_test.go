package cmd

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/fieldbus/netx"
	"github.com/mklimuk/fieldbus/sim"
)

func TestChangelogCmd_MissingFlags(t *testing.T) {
	err := ChangelogCmd().RunE(&cobra.Command{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not get output flag")
}

func TestBuildCmd_UnknownBoard(t *testing.T) {
	c := BuildCmd()
	require.NoError(t, c.Flags().Set("board", "beaglebone"))
	err := c.RunE(c, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown board "beaglebone"`)
}

func TestSimCases_MatchEmulatedFamilies(t *testing.T) {
	for _, c := range simCases {
		t.Run(c.port, func(t *testing.T) {
			dev, err := sim.ForFamily(c.port)
			require.NoError(t, err)
			family, err := netx.Identify(context.Background(), dev)
			require.NoError(t, err)
			assert.Equal(t, "family: "+family.Name, c.family)
		})
	}
}
