package netx

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/stretchr/testify/mock"

	"github.com/mklimuk/fieldbus"
)

// MockSPIBus is a testify mock of fieldbus.SPIBus
type MockSPIBus struct {
	mock.Mock
}

func (m *MockSPIBus) Exchange(ctx context.Context, segments ...fieldbus.Segment) error {
	args := m.Called(ctx, segments)
	return args.Error(0)
}

// discoveryExchange matches the 4-byte family discovery transfer
func discoveryExchange() interface{} {
	return mock.MatchedBy(func(segs []fieldbus.Segment) bool {
		return len(segs) == 1 &&
			bytes.Equal(segs[0].Out, []byte{0x00, 0xFF, 0x84, 0x00}) &&
			len(segs[0].In) == 4
	})
}

// sdpmRead matches a netX51 read of length bytes at address
func sdpmRead(address uint32, length int) interface{} {
	want, err := ReadRequest{Address: address, Length: length}.Encode()
	if err != nil {
		panic(err)
	}
	return mock.MatchedBy(func(segs []fieldbus.Segment) bool {
		return len(segs) == 2 &&
			bytes.Equal(segs[0].Out, want[:]) && len(segs[0].In) == 4 &&
			segs[1].Out == nil && len(segs[1].In) == length
	})
}

// fill copies data[i] into the In buffer of segment i
func fill(data ...[]byte) func(mock.Arguments) {
	return func(args mock.Arguments) {
		segs := args.Get(1).([]fieldbus.Segment)
		for i, d := range data {
			copy(segs[i].In, d)
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestSession(bus fieldbus.SPIBus, family *Family) *Session {
	return &Session{bus: bus, log: discardLogger(), family: family, outcome: Outcome{Family: family}}
}
