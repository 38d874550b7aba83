package fieldbus

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("SPI engine is busy (transfer not accepted)")

// Segment is one leg of a chained bus exchange. The segment clocks len(In)
// bytes; Out is shifted out first and zero-padded, nil Out sends zeros.
type Segment struct {
	Out []byte
	In  []byte
}

// Len returns the number of bytes clocked by the segment.
func (s Segment) Len() int {
	if len(s.In) > len(s.Out) {
		return len(s.In)
	}
	return len(s.Out)
}

// SPIBus executes chained segments as one transaction: chip select stays
// asserted from the first segment to the last and no other traffic may
// interleave. On success every segment's In buffer is filled.
type SPIBus interface {
	Exchange(ctx context.Context, segments ...Segment) error
}

type SPIBusCloser interface {
	SPIBus
	Close() error
}

// Flatten concatenates segments into a single full-duplex frame.
func Flatten(segments []Segment) []byte {
	total := 0
	for _, s := range segments {
		total += s.Len()
	}
	tx := make([]byte, total)
	off := 0
	for _, s := range segments {
		copy(tx[off:], s.Out)
		off += s.Len()
	}
	return tx
}

// Scatter copies a received full-duplex frame back into segment In buffers.
func Scatter(rx []byte, segments []Segment) {
	off := 0
	for _, s := range segments {
		copy(s.In, rx[off:])
		off += s.Len()
	}
}
