package fieldbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenScatter(t *testing.T) {
	status := make([]byte, 4)
	data := make([]byte, 3)
	segments := []Segment{
		{Out: []byte{0x81, 0x23, 0x45, 0x03}, In: status},
		{In: data},
	}
	tx := Flatten(segments)
	assert.Equal(t, []byte{0x81, 0x23, 0x45, 0x03, 0, 0, 0}, tx)

	Scatter([]byte{1, 2, 3, 4, 5, 6, 7}, segments)
	assert.Equal(t, []byte{1, 2, 3, 4}, status)
	assert.Equal(t, []byte{5, 6, 7}, data)
}

func TestSegmentLen(t *testing.T) {
	assert.Equal(t, 4, Segment{Out: []byte{1, 2, 3, 4}}.Len())
	assert.Equal(t, 4, Segment{Out: []byte{1}, In: make([]byte, 4)}.Len())
	assert.Equal(t, 0, Segment{}.Len())
}
