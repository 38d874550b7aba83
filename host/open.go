package host

import (
	"fmt"
	"strconv"

	gobotspi "gobot.io/x/gobot/v2/drivers/spi"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/physic"
	periphspi "periph.io/x/conn/v3/spi"

	"github.com/mklimuk/fieldbus"
	"github.com/mklimuk/fieldbus/adapter"
	"github.com/mklimuk/fieldbus/config"
	"github.com/mklimuk/fieldbus/sim"
	"github.com/mklimuk/fieldbus/spi"
)

// OpenBus opens the transport described by dev.
func OpenBus(dev config.Device) (fieldbus.SPIBusCloser, error) {
	switch dev.Transport {
	case config.TransportPeriph:
		return spi.NewGenericBus(dev.Port,
			spi.WithSpeed(physic.Frequency(dev.Speed())*physic.Hertz),
			spi.WithMode(periphspi.Mode(dev.SPIMode())),
		)
	case config.TransportGobot:
		busNum := 0
		if dev.Port != "" {
			n, err := strconv.Atoi(dev.Port)
			if err != nil {
				return nil, fmt.Errorf("invalid gobot bus number %q: %w", dev.Port, err)
			}
			busNum = n
		}
		b := spi.NewGobotBus(nanopi.NewNeoAdaptor(), dev.Name,
			gobotspi.WithBusNumber(busNum),
			gobotspi.WithChipNumber(dev.ChipSelect),
			gobotspi.WithMode(dev.SPIMode()),
			gobotspi.WithSpeed(dev.Speed()),
		)
		if err := b.Start(); err != nil {
			return nil, err
		}
		return b, nil
	case config.TransportMCP2210:
		opts := []adapter.MCP2210Opt{
			adapter.WithBitRate(uint32(dev.Speed())),
			adapter.WithMode(byte(dev.SPIMode())),
			adapter.WithChipSelect(dev.ChipSelect),
		}
		if dev.Port == "" {
			return adapter.NewMCP2210(opts...), nil
		}
		index, err := strconv.Atoi(dev.Port)
		if err != nil {
			return nil, fmt.Errorf("invalid MCP2210 index %q: %w", dev.Port, err)
		}
		return adapter.NewMCP2210At(index, opts...), nil
	case config.TransportSim:
		return sim.ForFamily(dev.Port)
	default:
		return nil, fmt.Errorf("unknown transport %q", dev.Transport)
	}
}
