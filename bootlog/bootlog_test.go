package bootlog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/kpalloc/memmap"
	"github.com/shenjiangwei/kpalloc/paddr"
)

func TestFakeUARTWriteAndString(t *testing.T) {
	u := NewFakeUART()
	n, err := u.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", u.String())
}

func TestFakeUARTTryWriteByteFailsWhileHeld(t *testing.T) {
	u := NewFakeUART()
	g := u.buf.Lock()
	assert.False(t, u.TryWriteByte('x'))
	g.Unlock()
	assert.True(t, u.TryWriteByte('y'))
}

func TestBestEffortWriterFallsBackWhenPrimaryBusy(t *testing.T) {
	primary := NewFakeUART()
	var fallback bytes.Buffer
	w := &BestEffortWriter{Primary: primary, Fallback: &fallback}

	g := primary.buf.Lock()
	n, err := w.Write([]byte("boot"))
	g.Unlock()

	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "", primary.String())
	assert.Equal(t, "boot", fallback.String())
}

func TestSummaryWritesThroughConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	prevLevel := currentLevel
	SetLevel(LogLevelInfo)
	SetOutput(&buf)
	t.Cleanup(func() {
		SetLevel(prevLevel)
		SetOutput(discardWriter{})
	})

	mm := memmap.Calculate(paddr.PhysicalAddress(0), 1024*1024, paddr.PhysicalAddress(0), paddr.PhysicalAddress(0))
	Summary(mm, 5, 0b10101)

	out := buf.String()
	assert.Contains(t, out, "FrameAllocator initialized")
	assert.Contains(t, out, "ram:")
	assert.Contains(t, out, "frames:")
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
