package netx

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		given    [3]byte
		expected *Family
	}{
		{[3]byte{0x00, 0x00, 0x00}, NetX10},
		{[3]byte{0xFF, 0xFF, 0xFF}, NetX50},
		{[3]byte{0x11, 0x22, 0x33}, NetX51},
		{[3]byte{0x31, 0x00, 0x00}, NetX51},
		{[3]byte{0xF1, 0xFF, 0xFF}, NetX51},
		{[3]byte{0x51, 0x00, 0x01}, NetX51},
		{[3]byte{0x64, 0x00, 0x00}, NetX100},
		{[3]byte{0x64, 0xAB, 0xCD}, NetX100},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("% x", test.given), func(t *testing.T) {
			family, err := Classify(test.given)
			require.NoError(t, err)
			assert.Same(t, test.expected, family)
		})
	}
}

func TestClassify_Unrecognized(t *testing.T) {
	for _, given := range [][3]byte{
		{0x12, 0x00, 0x00},
		{0x00, 0x00, 0x01},
		{0xFF, 0xFF, 0xFE},
		{0x65, 0x00, 0x00},
		{0x10, 0x11, 0x11},
	} {
		t.Run(fmt.Sprintf("% x", given), func(t *testing.T) {
			family, err := Classify(given)
			assert.Nil(t, family)
			assert.ErrorIs(t, err, ErrUnrecognizedFamily)
			var uerr *UnrecognizedFamilyError
			require.ErrorAs(t, err, &uerr)
			assert.Equal(t, given, uerr.Response)
		})
	}
}

func TestClassify_RuleOrder(t *testing.T) {
	// exact patterns are checked before the masked netX51 rule, which is
	// checked before the netX100 byte
	order := make([]*Family, 0, len(rules))
	for _, r := range rules {
		order = append(order, r.family)
	}
	assert.Equal(t, []*Family{NetX10, NetX50, NetX51, NetX100}, order)

	// every response matching the all-zero rule resolves to netX10 even
	// though later rules are still evaluated against the same bytes
	family, err := Classify([3]byte{0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Same(t, NetX10, family)

	// a first byte of 0xF1 only satisfies the masked rule: netX50 needs all
	// three bytes at 0xFF
	family, err = Classify([3]byte{0xF1, 0xFF, 0xFF})
	require.NoError(t, err)
	assert.Same(t, NetX51, family)
}

func TestIdentify(t *testing.T) {
	bus := new(MockSPIBus)
	bus.On("Exchange", mock.Anything, discoveryExchange()).
		Run(fill([]byte{0x11, 0x22, 0x33, 0x44})).
		Return(nil).Once()

	family, err := NewDriver(WithLogger(discardLogger())).Identify(context.Background(), bus)
	require.NoError(t, err)
	assert.Same(t, NetX51, family)
	bus.AssertExpectations(t)
}

func TestIdentify_TransportError(t *testing.T) {
	busErr := errors.New("bus unavailable")
	bus := new(MockSPIBus)
	bus.On("Exchange", mock.Anything, discoveryExchange()).Return(busErr).Once()

	family, err := Identify(context.Background(), bus)
	assert.Nil(t, family)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, busErr)
	bus.AssertNumberOfCalls(t, "Exchange", 1)
}

func TestIdentify_Unrecognized(t *testing.T) {
	bus := new(MockSPIBus)
	bus.On("Exchange", mock.Anything, discoveryExchange()).
		Run(fill([]byte{0xAA, 0xBB, 0xCC, 0xDD})).
		Return(nil).Once()

	_, err := NewDriver(WithLogger(discardLogger())).Identify(context.Background(), bus)
	var uerr *UnrecognizedFamilyError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, [3]byte{0xAA, 0xBB, 0xCC}, uerr.Response)
	assert.Contains(t, err.Error(), "aa bb cc")
	// no retry
	bus.AssertNumberOfCalls(t, "Exchange", 1)
}
