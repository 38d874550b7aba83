package netx

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/mklimuk/fieldbus"
	"github.com/mklimuk/fieldbus/busctx"
)

const DriverName = "netx"

// Compatible lists the device tree tags the driver binds to.
var Compatible = []string{"hilscher,netx52"}

// rcX system status register and flags
const (
	RegSystemStatus uint32 = 0x00C4

	StatusNXOSupported uint32 = 1 << 31
)

type DriverOpts struct {
	Logger *slog.Logger
	// NXOHook is called when the status word advertises NXO support.
	NXOHook func(ctx context.Context, s *Session)
}

type DriverOpt func(*DriverOpts)

func WithLogger(log *slog.Logger) DriverOpt {
	return func(o *DriverOpts) {
		o.Logger = log
	}
}

func WithNXOHook(hook func(ctx context.Context, s *Session)) DriverOpt {
	return func(o *DriverOpts) {
		o.NXOHook = hook
	}
}

// Driver probes netX controllers. It holds no per-device state and may be
// shared between independent buses.
type Driver struct {
	config DriverOpts
}

func NewDriver(opts ...DriverOpt) *Driver {
	config := DriverOpts{}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Driver{config: config}
}

func (d *Driver) Name() string {
	return DriverName
}

func (d *Driver) Compatible() []string {
	return Compatible
}

// Outcome is the result of a successful probe.
type Outcome struct {
	Family *Family
	// Cookie is the identity tag read by the init handshake, if any.
	Cookie string
	// HasStatus is false for families without a read protocol; Status is
	// then zero.
	HasStatus    bool
	Status       uint32
	NXOSupported bool
}

// Session is a bus bound to the family detected by Probe. Every read goes
// through that family's protocol.
type Session struct {
	bus        fieldbus.SPIBus
	log        *slog.Logger
	family     *Family
	lastStatus byte
	outcome    Outcome
}

func (s *Session) Family() *Family {
	return s.family
}

func (s *Session) Outcome() Outcome {
	return s.outcome
}

// LastStatus returns the sDPM status byte captured by the latest read.
func (s *Session) LastStatus() byte {
	return s.lastStatus
}

// Read returns length bytes of dual-port memory at address.
func (s *Session) Read(ctx context.Context, address uint32, length int) ([]byte, error) {
	if s.family.Read == nil {
		return nil, fmt.Errorf("%w: %s has no register read protocol", ErrUnsupported, s.family.Name)
	}
	if err := (ReadRequest{Address: address, Length: length}).validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if err := s.family.Read(ctx, s, address, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadUint32 reads a little-endian 32-bit register.
func (s *Session) ReadUint32(ctx context.Context, address uint32) (uint32, error) {
	buf, err := s.Read(ctx, address, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// Identify runs the discovery exchange using the driver's logger.
func (d *Driver) Identify(ctx context.Context, bus fieldbus.SPIBus) (*Family, error) {
	return identify(ctx, bus, d.logger(ctx))
}

// logger tags records with the device node carried by ctx, if any.
func (d *Driver) logger(ctx context.Context) *slog.Logger {
	if node := busctx.Node(ctx); node != "" {
		return d.config.Logger.With("device", node)
	}
	return d.config.Logger
}

// Probe identifies the controller on bus, runs its init handshake and reads
// the system status register. Any failure is returned as is: no other family
// is tried and nothing is retried.
func (d *Driver) Probe(ctx context.Context, bus fieldbus.SPIBus) (*Session, error) {
	log := d.logger(ctx)
	log.Info("netx probe")

	family, err := identify(ctx, bus, log)
	if err != nil {
		return nil, err
	}
	log.Info(family.Name + " family")

	s := &Session{
		bus:     bus,
		log:     log.With("family", family.Name),
		family:  family,
		outcome: Outcome{Family: family},
	}
	if family.Init != nil {
		cookie, err := family.Init(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("%s init: %w", family.Name, err)
		}
		s.outcome.Cookie = cookie
	}
	if !family.SupportsRead() {
		log.Info("status read skipped", "family", family.Name)
		return s, nil
	}

	status, err := s.ReadUint32(ctx, RegSystemStatus)
	if err != nil {
		return nil, fmt.Errorf("%s status read: %w", family.Name, err)
	}
	s.outcome.HasStatus = true
	s.outcome.Status = status
	log.Info(fmt.Sprintf("status = %08x", status))

	if status&StatusNXOSupported != 0 {
		s.outcome.NXOSupported = true
		if d.config.NXOHook != nil {
			d.config.NXOHook(ctx, s)
		}
	}
	return s, nil
}

// Teardown is the removal counterpart of Probe. The driver keeps no
// resources between the two calls.
func (d *Driver) Teardown(ctx context.Context, s *Session) {
	if s == nil {
		d.logger(ctx).Info("netx removed")
		return
	}
	d.logger(ctx).Info("netx removed", "family", s.family.Name)
}
