// Package host binds drivers to configured SPI device nodes and drives their
// probe/teardown lifecycle.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/mklimuk/fieldbus"
	"github.com/mklimuk/fieldbus/busctx"
	"github.com/mklimuk/fieldbus/config"
)

var ErrNoDriver = errors.New("no driver matches device")
var ErrDuplicateDriver = errors.New("driver already registered")

// Driver is probed once per matching device node.
type Driver interface {
	Name() string
	Compatible() []string
	Attach(ctx context.Context, bus fieldbus.SPIBus) (Attachment, error)
}

// Attachment is a driver bound to one device; Detach runs its teardown.
type Attachment interface {
	Detach(ctx context.Context) error
}

// Opener opens the bus a device node lives on.
type Opener func(dev config.Device) (fieldbus.SPIBusCloser, error)

type Binding struct {
	Device     config.Device
	Driver     string
	Attachment Attachment
	Err        error

	bus fieldbus.SPIBusCloser
}

type Registry struct {
	mx      sync.Mutex
	drivers []Driver
	open    Opener
	bound   []*Binding
	limit   int
}

type RegistryOpt func(*Registry)

// WithParallelism bounds the number of concurrent probes; 0 means one per
// device.
func WithParallelism(n int) RegistryOpt {
	return func(r *Registry) {
		r.limit = n
	}
}

func NewRegistry(open Opener, opts ...RegistryOpt) *Registry {
	r := &Registry{open: open}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(d Driver) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	for _, existing := range r.drivers {
		if existing.Name() == d.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateDriver, d.Name())
		}
	}
	r.drivers = append(r.drivers, d)
	return nil
}

// Match returns the first registered driver compatible with dev.
func (r *Registry) Match(dev config.Device) (Driver, bool) {
	r.mx.Lock()
	defer r.mx.Unlock()
	for _, d := range r.drivers {
		if dev.Matches(d.Compatible()) {
			return d, true
		}
	}
	return nil, false
}

// BindAll probes every device on its own bus in parallel. A failing device
// does not affect the others; the returned error combines all failures and
// the bindings carry the per-device result.
func (r *Registry) BindAll(ctx context.Context, devices []config.Device) ([]*Binding, error) {
	bindings := make([]*Binding, len(devices))
	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, dev := range devices {
		g.Go(func() error {
			bindings[i] = r.bind(ctx, dev)
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	r.mx.Lock()
	for _, b := range bindings {
		if b.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", b.Device.Name, b.Err))
			continue
		}
		r.bound = append(r.bound, b)
	}
	r.mx.Unlock()
	return bindings, errs
}

func (r *Registry) bind(ctx context.Context, dev config.Device) *Binding {
	b := &Binding{Device: dev}
	d, ok := r.Match(dev)
	if !ok {
		b.Err = ErrNoDriver
		return b
	}
	b.Driver = d.Name()
	bus, err := r.open(dev)
	if err != nil {
		b.Err = fmt.Errorf("could not open bus: %w", err)
		return b
	}
	log := slog.With("device", dev.Name, "driver", d.Name())
	log.Debug("probing device")
	att, err := d.Attach(busctx.WithNode(ctx, dev.Name), bus)
	if err != nil {
		log.Error("probe failed", "error", err)
		b.Err = multierr.Combine(err, bus.Close())
		return b
	}
	b.Attachment = att
	b.bus = bus
	return b
}

// UnbindAll tears devices down in reverse bind order and closes their buses.
func (r *Registry) UnbindAll(ctx context.Context) error {
	r.mx.Lock()
	bound := r.bound
	r.bound = nil
	r.mx.Unlock()

	var errs error
	for i := len(bound) - 1; i >= 0; i-- {
		b := bound[i]
		errs = multierr.Append(errs, b.Attachment.Detach(busctx.WithNode(ctx, b.Device.Name)))
		errs = multierr.Append(errs, b.bus.Close())
	}
	return errs
}

// Bound returns the currently attached devices.
func (r *Registry) Bound() []*Binding {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]*Binding(nil), r.bound...)
}
