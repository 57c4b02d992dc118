package sidecar

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferKeepsMostRecent(t *testing.T) {
	b := NewRingBuffer(errorBufferSize)
	for i := 0; i < 60; i++ {
		b.Add(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, 50, b.Len())

	all := b.Last(100)
	assert.Len(t, all, 50)
	assert.Equal(t, "line 10", all[0])
	assert.Equal(t, "line 59", all[49])

	assert.Equal(t, []string{"line 57", "line 58", "line 59"}, b.Last(3))
}

func TestRingBufferPartiallyFilled(t *testing.T) {
	b := NewRingBuffer(5)
	assert.Nil(t, b.Last(3))
	assert.Equal(t, "", b.Diagnostics())

	b.Add("a")
	b.Add("b")
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []string{"a", "b"}, b.Last(10))
	assert.Equal(t, "a\nb", b.Diagnostics())

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Last(1))
}

func TestRingBufferDiagnosticsUsesLastTenLines(t *testing.T) {
	b := NewRingBuffer(errorBufferSize)
	for i := 0; i < 15; i++ {
		b.Add(fmt.Sprintf("%d", i))
	}
	assert.Equal(t, "5\n6\n7\n8\n9\n10\n11\n12\n13\n14", b.Diagnostics())
}
