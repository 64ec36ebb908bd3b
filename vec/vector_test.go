package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/devec-ml/devec/device"
)

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestNewLayout(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	v, err := New[float32](equalSession(), queues, 100)
	require.NoError(t, err)
	defer v.Release()

	assert.Equal(t, uint64(100), v.Size())
	assert.Equal(t, 2, v.Parts())
	assert.Equal(t, []uint64{0, 64, 100}, v.Partition())
	assert.Equal(t, uint64(64), v.PartSize(0))
	assert.Equal(t, uint64(36), v.PartSize(1))
	assert.Equal(t, uint64(64), v.PartStart(1))

	require.NotNil(t, v.BufferAt(0))
	require.NotNil(t, v.BufferAt(1))
	assert.Equal(t, uint64(64*4), v.BufferAt(0).Size())
	assert.Equal(t, uint64(36*4), v.BufferAt(1).Size())
}

func TestEmptyPartitionHasNoBuffer(t *testing.T) {
	queues := simQueues(t, "gpu,cpu,cpu")
	v, err := New[float32](equalSession(), queues, 10)
	require.NoError(t, err)
	defer v.Release()

	assert.NotNil(t, v.BufferAt(0))
	assert.Nil(t, v.BufferAt(1))
	assert.Nil(t, v.BufferAt(2))
}

func TestFromSliceRoundTrip(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	host := ramp(100)
	v, err := FromSlice(equalSession(), queues, host)
	require.NoError(t, err)
	defer v.Release()

	out := make([]float32, 100)
	require.NoError(t, CopyToHost(v, out, true))
	assert.Equal(t, host, out)
}

func TestPlainUint16Rejected(t *testing.T) {
	queues := simQueues(t, "gpu")
	_, err := New[uint16](equalSession(), queues, 10)
	assert.Error(t, err, "uint16 is only valid through float16.Float16")

	v, err := New[float16.Float16](equalSession(), queues, 10)
	require.NoError(t, err)
	v.Release()
}

func TestWriteReadRange(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	v, err := New[float32](equalSession(), queues, 100)
	require.NoError(t, err)
	defer v.Release()

	require.NoError(t, v.WriteData(0, make([]float32, 100), true))

	// A range straddling the partition boundary at 64 touches both devices.
	patch := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, v.WriteData(60, patch, true))

	out := make([]float32, 8)
	require.NoError(t, v.ReadData(60, out, true))
	assert.Equal(t, patch, out)

	// Rest of the vector untouched.
	whole := make([]float32, 100)
	require.NoError(t, v.ReadData(0, whole, true))
	assert.Zero(t, whole[59])
	assert.Zero(t, whole[68])
}

func TestTransferBoundsAndNoop(t *testing.T) {
	queues := simQueues(t, "gpu")
	v, err := New[float32](equalSession(), queues, 10)
	require.NoError(t, err)
	defer v.Release()

	// Empty transfers are no-ops.
	require.NoError(t, v.WriteData(5, nil, true))
	require.NoError(t, v.ReadData(10, nil, true))

	err = v.WriteData(5, make([]float32, 6), true)
	assert.ErrorIs(t, err, ErrSizeMismatch)
	err = v.ReadData(11, make([]float32, 1), true)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestNonBlockingTransfer(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	v, err := FromSlice(equalSession(), queues, ramp(100))
	require.NoError(t, err)
	defer v.Release()

	out := make([]float32, 100)
	require.NoError(t, v.ReadData(0, out, false))
	// The read may still be in flight; Finish drains both queues.
	require.NoError(t, v.Finish())
	assert.Equal(t, ramp(100), out)
}

func TestElementProxy(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	v, err := FromSlice(equalSession(), queues, ramp(100))
	require.NoError(t, err)
	defer v.Release()

	// Indices on both sides of the partition boundary.
	for _, i := range []uint64{0, 63, 64, 99} {
		got, err := v.At(i).Get()
		require.NoError(t, err)
		assert.Equal(t, float32(i), got, "element %d", i)
	}

	require.NoError(t, v.At(64).Set(-1))
	got, err := v.At(64).Get()
	require.NoError(t, err)
	assert.Equal(t, float32(-1), got)

	_, err = v.At(100).Get()
	assert.ErrorIs(t, err, ErrSizeMismatch)
	assert.ErrorIs(t, v.At(100).Set(0), ErrSizeMismatch)
}

func TestIterators(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	v, err := FromSlice(equalSession(), queues, ramp(100))
	require.NoError(t, err)
	defer v.Release()

	assert.Equal(t, int64(100), v.End().Sub(v.Begin()))

	// Stepping forward only ever advances the part index.
	it := v.Begin()
	last := it.Part()
	for !it.Equal(v.End()) {
		assert.GreaterOrEqual(t, it.Part(), last)
		last = it.Part()
		it.Next()
	}
	assert.Equal(t, 1, last)

	mid := v.Begin().Add(64)
	assert.Equal(t, uint64(64), mid.Pos())
	assert.Equal(t, 1, mid.Part())

	got, err := mid.Ref().Get()
	require.NoError(t, err)
	assert.Equal(t, float32(64), got)

	// Range copy across the boundary.
	out := make([]float32, 10)
	require.NoError(t, CopyRangeToHost(v.Begin().Add(60), v.Begin().Add(70), out, true))
	assert.Equal(t, ramp(100)[60:70], out)

	err = CopyRangeToHost(v.Begin().Add(70), v.Begin().Add(60), out, true)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestCopyRangeToHostShortDst(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	v, err := FromSlice(equalSession(), queues, ramp(100))
	require.NoError(t, err)
	defer v.Release()

	// A destination shorter than the range clamps like CopyToHost does.
	out := make([]float32, 5)
	require.NoError(t, CopyRangeToHost(v.Begin(), v.Begin().Add(10), out, true))
	assert.Equal(t, ramp(100)[:5], out)
}

func TestPastTheEndIterator(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	v, err := New[float32](equalSession(), queues, 100)
	require.NoError(t, err)
	defer v.Release()

	assert.Equal(t, v.End().Part(), v.Iter(v.Size()).Part())
	assert.True(t, v.Iter(v.Size()).Equal(v.End()))
}

func TestPartitionBeyondIndexRange(t *testing.T) {
	queues := simQueues(t, "cpu")
	_, err := New[float32](equalSession(), queues, uint64(1)<<32)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32-bit")
}

func TestSwap(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	sess := equalSession()
	a, err := FromSlice(sess, queues, ramp(100))
	require.NoError(t, err)
	defer a.Release()
	b, err := FromSlice(sess, queues, make([]float32, 10))
	require.NoError(t, err)
	defer b.Release()

	Swap(a, b)
	assert.Equal(t, uint64(10), a.Size())
	assert.Equal(t, uint64(100), b.Size())

	out := make([]float32, 100)
	require.NoError(t, CopyToHost(b, out, true))
	assert.Equal(t, ramp(100), out)
}

func TestResizeDiscards(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	v, err := FromSlice(equalSession(), queues, ramp(100))
	require.NoError(t, err)
	defer v.Release()

	require.NoError(t, v.Resize(queues, 200))
	assert.Equal(t, uint64(200), v.Size())
	assert.Equal(t, []uint64{0, 112, 200}, v.Partition())
}

func TestResizeFromPreserves(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	sess := equalSession()
	src, err := FromSlice(sess, queues, ramp(100))
	require.NoError(t, err)
	defer src.Release()

	dst, err := New[float32](sess, queues, 5)
	require.NoError(t, err)
	defer dst.Release()

	require.NoError(t, dst.ResizeFrom(src))
	assert.Equal(t, uint64(100), dst.Size())

	out := make([]float32, 100)
	require.NoError(t, CopyToHost(dst, out, true))
	require.NoError(t, dst.Finish())
	assert.Equal(t, ramp(100), out)
}

func TestCopyFromLayoutMismatch(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	sess := equalSession()
	a, err := New[float32](sess, queues, 100)
	require.NoError(t, err)
	defer a.Release()
	b, err := New[float32](sess, queues, 200)
	require.NoError(t, err)
	defer b.Release()

	assert.ErrorIs(t, a.CopyFrom(b), ErrPartitionMismatch)

	// Same size over different devices is also a mismatch.
	other := simQueues(t, "gpu,cpu")
	c, err := New[float32](sess, other, 100)
	require.NoError(t, err)
	defer c.Release()
	assert.ErrorIs(t, a.CopyFrom(c), ErrPartitionMismatch)

	// Self-copy is a no-op.
	assert.NoError(t, a.CopyFrom(a))
}

func TestCopyFrom(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	sess := equalSession()
	src, err := FromSlice(sess, queues, ramp(100))
	require.NoError(t, err)
	defer src.Release()
	dst, err := New[float32](sess, queues, 100)
	require.NoError(t, err)
	defer dst.Release()

	require.NoError(t, dst.CopyFrom(src))
	out := make([]float32, 100)
	require.NoError(t, CopyToHost(dst, out, true))
	assert.Equal(t, ramp(100), out)
}

func TestCopyFromHostClamps(t *testing.T) {
	queues := simQueues(t, "gpu")
	v, err := New[float32](equalSession(), queues, 4)
	require.NoError(t, err)
	defer v.Release()

	require.NoError(t, CopyFromHost([]float32{1, 2, 3, 4, 5, 6}, v, true))
	out := make([]float32, 8)
	require.NoError(t, CopyToHost(v, out, true))
	assert.Equal(t, []float32{1, 2, 3, 4, 0, 0, 0, 0}, out)
}

func TestDefaultSessionIsShared(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestVectorNeedsQueues(t *testing.T) {
	_, err := New[float32](equalSession(), nil, 10)
	assert.Error(t, err)
}

func TestWithFlags(t *testing.T) {
	queues := simQueues(t, "gpu")
	v, err := New[float32](equalSession(), queues, 4, WithFlags(device.MemReadOnly))
	require.NoError(t, err)
	defer v.Release()
	assert.Equal(t, device.MemReadOnly, v.BufferAt(0).Flags())
}
