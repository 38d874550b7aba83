package host

import (
	"context"

	"github.com/mklimuk/fieldbus"
	"github.com/mklimuk/fieldbus/netx"
)

// NetXDriver adapts netx.Driver to the host lifecycle.
type NetXDriver struct {
	*netx.Driver
}

func NetX(d *netx.Driver) *NetXDriver {
	return &NetXDriver{Driver: d}
}

func (n *NetXDriver) Attach(ctx context.Context, bus fieldbus.SPIBus) (Attachment, error) {
	s, err := n.Probe(ctx, bus)
	if err != nil {
		return nil, err
	}
	return &NetXAttachment{Session: s, driver: n.Driver}, nil
}

type NetXAttachment struct {
	*netx.Session
	driver *netx.Driver
}

func (a *NetXAttachment) Detach(ctx context.Context) error {
	a.driver.Teardown(ctx, a.Session)
	return nil
}
