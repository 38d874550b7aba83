package spi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/fieldbus"
)

type mockDuplexer struct {
	mock.Mock
}

func (m *mockDuplexer) ReadCommandData(command []byte, data []byte) error {
	args := m.Called(command, data)
	if reply, ok := args.Get(0).([]byte); ok {
		copy(data, reply)
	}
	return args.Error(1)
}

func TestGobotBus_ExchangeFlattensSegments(t *testing.T) {
	conn := new(mockDuplexer)
	conn.On("ReadCommandData", []byte{0x80, 0x00, 0xC4, 0x04, 0, 0, 0, 0}, mock.Anything).
		Return([]byte{0x07, 0, 0, 0, 0x01, 0x00, 0x00, 0x80}, nil).Once()
	b := &GobotBus{conn: conn}

	status := make([]byte, 4)
	data := make([]byte, 4)
	err := b.Exchange(context.Background(),
		fieldbus.Segment{Out: []byte{0x80, 0x00, 0xC4, 0x04}, In: status},
		fieldbus.Segment{In: data},
	)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07, 0, 0, 0}, status)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x80}, data)
	conn.AssertExpectations(t)
}

func TestGobotBus_ExchangeError(t *testing.T) {
	busErr := errors.New("spidev closed")
	conn := new(mockDuplexer)
	conn.On("ReadCommandData", mock.Anything, mock.Anything).Return(nil, busErr).Once()
	b := &GobotBus{conn: conn}

	err := b.Exchange(context.Background(), fieldbus.Segment{Out: []byte{0x00, 0xFF, 0x84, 0x00}, In: make([]byte, 4)})
	assert.ErrorIs(t, err, busErr)
}

func TestGobotBus_NotStarted(t *testing.T) {
	b := &GobotBus{}
	err := b.Exchange(context.Background(), fieldbus.Segment{In: make([]byte, 1)})
	assert.Error(t, err)
}
