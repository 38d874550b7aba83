package host

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/fieldbus"
	"github.com/mklimuk/fieldbus/busctx"
	"github.com/mklimuk/fieldbus/config"
	"github.com/mklimuk/fieldbus/netx"
)

// discoveryBus answers every exchange with a fixed first segment
type discoveryBus struct {
	mx       sync.Mutex
	response []byte
	err      error
	closed   bool
	nodes    []string
}

func (b *discoveryBus) Exchange(ctx context.Context, segments ...fieldbus.Segment) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.nodes = append(b.nodes, busctx.Node(ctx))
	if b.err != nil {
		return b.err
	}
	copy(segments[0].In, b.response)
	return nil
}

func (b *discoveryBus) Close() error {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.closed = true
	return nil
}

type recordingAttachment struct {
	name   string
	detach *[]string
}

func (a *recordingAttachment) Detach(ctx context.Context) error {
	*a.detach = append(*a.detach, a.name)
	return nil
}

type stubDriver struct {
	name     string
	detached []string
}

func (d *stubDriver) Name() string         { return d.name }
func (d *stubDriver) Compatible() []string { return []string{"acme,stub"} }
func (d *stubDriver) Attach(ctx context.Context, bus fieldbus.SPIBus) (Attachment, error) {
	return &recordingAttachment{name: busctx.Node(ctx), detach: &d.detached}, nil
}

func netxNode(name string) config.Device {
	return config.Device{Name: name, Compatible: []string{"hilscher,netx52"}, Transport: config.TransportPeriph}
}

func TestRegistry_BindAllNetX(t *testing.T) {
	buses := map[string]*discoveryBus{
		"a": {response: []byte{0x64, 0, 0, 0}},
		"b": {response: []byte{0x00, 0x00, 0x00, 0x00}},
		"c": {response: []byte{0x42, 0x42, 0x42, 0x42}},
	}
	r := NewRegistry(func(dev config.Device) (fieldbus.SPIBusCloser, error) {
		return buses[dev.Name], nil
	})
	require.NoError(t, r.Register(NetX(netx.NewDriver())))

	bindings, err := r.BindAll(context.Background(), []config.Device{netxNode("a"), netxNode("b"), netxNode("c")})
	require.Error(t, err)
	assert.ErrorIs(t, err, netx.ErrUnrecognizedFamily)
	require.Len(t, bindings, 3)

	require.NoError(t, bindings[0].Err)
	assert.Equal(t, "netx", bindings[0].Driver)
	assert.Same(t, netx.NetX100, bindings[0].Attachment.(*NetXAttachment).Family())
	require.NoError(t, bindings[1].Err)
	assert.Same(t, netx.NetX10, bindings[1].Attachment.(*NetXAttachment).Family())
	assert.ErrorIs(t, bindings[2].Err, netx.ErrUnrecognizedFamily)

	// failed probe releases its bus immediately
	assert.True(t, buses["c"].closed)
	assert.False(t, buses["a"].closed)
	assert.Equal(t, []string{"a"}, buses["a"].nodes)
	assert.Len(t, r.Bound(), 2)

	require.NoError(t, r.UnbindAll(context.Background()))
	assert.True(t, buses["a"].closed)
	assert.True(t, buses["b"].closed)
	assert.Empty(t, r.Bound())
}

func TestRegistry_NoDriverAndOpenFailure(t *testing.T) {
	openErr := errors.New("no such port")
	r := NewRegistry(func(dev config.Device) (fieldbus.SPIBusCloser, error) {
		return nil, openErr
	}, WithParallelism(1))
	require.NoError(t, r.Register(NetX(netx.NewDriver())))

	unknown := config.Device{Name: "x", Compatible: []string{"acme,other"}, Transport: config.TransportPeriph}
	bindings, err := r.BindAll(context.Background(), []config.Device{unknown, netxNode("y")})
	assert.ErrorIs(t, err, ErrNoDriver)
	assert.ErrorIs(t, err, openErr)
	assert.ErrorIs(t, bindings[0].Err, ErrNoDriver)
	assert.ErrorIs(t, bindings[1].Err, openErr)
	assert.Empty(t, r.Bound())
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(OpenBus)
	require.NoError(t, r.Register(&stubDriver{name: "stub"}))
	assert.ErrorIs(t, r.Register(&stubDriver{name: "stub"}), ErrDuplicateDriver)

	d, ok := r.Match(config.Device{Compatible: []string{"acme,stub"}})
	require.True(t, ok)
	assert.Equal(t, "stub", d.Name())
	_, ok = r.Match(config.Device{Compatible: []string{"hilscher,netx52"}})
	assert.False(t, ok)
}

func TestRegistry_UnbindReverseOrder(t *testing.T) {
	stub := &stubDriver{name: "stub"}
	r := NewRegistry(func(dev config.Device) (fieldbus.SPIBusCloser, error) {
		return &discoveryBus{}, nil
	})
	require.NoError(t, r.Register(stub))
	devs := []config.Device{
		{Name: "first", Compatible: []string{"acme,stub"}},
		{Name: "second", Compatible: []string{"acme,stub"}},
	}
	_, err := r.BindAll(context.Background(), devs)
	require.NoError(t, err)
	require.NoError(t, r.UnbindAll(context.Background()))
	assert.Equal(t, []string{"second", "first"}, stub.detached)
}

func TestOpenBus_Sim(t *testing.T) {
	r := NewRegistry(OpenBus)
	require.NoError(t, r.Register(NetX(netx.NewDriver())))
	devs := []config.Device{
		{Name: "bench51", Compatible: netx.Compatible, Transport: config.TransportSim, Port: "netx51"},
		{Name: "bench100", Compatible: netx.Compatible, Transport: config.TransportSim, Port: "netx100"},
	}
	bindings, err := r.BindAll(context.Background(), devs)
	require.NoError(t, err)

	out := bindings[0].Attachment.(*NetXAttachment).Outcome()
	assert.Same(t, netx.NetX51, out.Family)
	assert.Equal(t, "netX", out.Cookie)
	assert.True(t, out.NXOSupported)
	assert.False(t, bindings[1].Attachment.(*NetXAttachment).Outcome().HasStatus)
	require.NoError(t, r.UnbindAll(context.Background()))

	_, err = OpenBus(config.Device{Transport: config.TransportSim, Port: "netx90"})
	assert.Error(t, err)
	_, err = OpenBus(config.Device{Transport: "uart"})
	assert.Error(t, err)
}
