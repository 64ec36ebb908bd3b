package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devec-ml/devec/device"
	"github.com/devec-ml/devec/internal/backend/sim"
)

func simQueues(t *testing.T, roster string) []device.Queue {
	t.Helper()
	p, err := sim.New(roster)
	require.NoError(t, err)
	t.Cleanup(p.Finalize)
	queues, err := device.AllQueues(p)
	require.NoError(t, err)
	return queues
}

func equalSession() *Session {
	return NewSession(WithPartitioner(PartitionEqually))
}

func TestPartitionEquallyTwoDevices(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")

	// ceil(100/2) = 50, aligned up to 64; the second device takes the rest.
	part, err := PartitionEqually(100, queues)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 64, 100}, part)
}

func TestPartitionEquallySingleDevice(t *testing.T) {
	queues := simQueues(t, "gpu")
	part, err := PartitionEqually(100, queues)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 100}, part)
}

func TestPartitionEquallySmallVector(t *testing.T) {
	queues := simQueues(t, "gpu,cpu,cpu")

	// 10 elements over 3 devices: the first aligned chunk swallows
	// everything, later devices go empty.
	part, err := PartitionEqually(10, queues)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 10, 10, 10}, part)
}

func TestPartitionEquallyEmpty(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")
	part, err := PartitionEqually(0, queues)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0, 0}, part)

	_, err = PartitionEqually(100, nil)
	assert.Error(t, err)
}

func TestPartitionEquallyInvariants(t *testing.T) {
	queues := simQueues(t, "gpu,cpu,gpu,cpu")
	for _, n := range []uint64{1, 15, 16, 17, 63, 64, 100, 1000, 4096, 1 << 20} {
		part, err := PartitionEqually(n, queues)
		require.NoError(t, err)
		require.Len(t, part, len(queues)+1)
		assert.Zero(t, part[0])
		assert.Equal(t, n, part[len(part)-1])
		for i := 0; i < len(queues); i++ {
			assert.LessOrEqual(t, part[i], part[i+1], "offsets decrease at %d for n=%d", i, n)
			// Interior boundaries are chunk-aligned unless clamped to n.
			if i > 0 && part[i] != n {
				assert.Zero(t, part[i]%partAlign, "boundary %d unaligned for n=%d", i, n)
			}
		}
	}
}

func TestPartitionByVectorPerf(t *testing.T) {
	if testing.Short() {
		t.Skip("runs device benchmarks")
	}
	queues := simQueues(t, "gpu,cpu")

	part, err := PartitionByVectorPerf(1<<20, queues)
	require.NoError(t, err)
	require.Len(t, part, 3)
	assert.Zero(t, part[0])
	assert.Equal(t, uint64(1<<20), part[2])
	assert.LessOrEqual(t, part[0], part[1])
	assert.LessOrEqual(t, part[1], part[2])
	if part[1] != 1<<20 {
		assert.Zero(t, part[1]%partAlign)
	}
}

func TestDeviceVectorPerf(t *testing.T) {
	if testing.Short() {
		t.Skip("runs device benchmarks")
	}
	queues := simQueues(t, "gpu")
	w, err := DeviceVectorPerf(queues[0])
	require.NoError(t, err)
	assert.Positive(t, w)
}

func TestSessionPartitionerSetOnce(t *testing.T) {
	sess := NewSession()
	sess.SetPartitioner(PartitionEqually)

	called := false
	sess.SetPartitioner(func(n uint64, queues []device.Queue) ([]uint64, error) {
		called = true
		return PartitionEqually(n, queues)
	})

	queues := simQueues(t, "gpu,cpu")
	v, err := New[float32](sess, queues, 100)
	require.NoError(t, err)
	defer v.Release()

	assert.False(t, called, "second SetPartitioner call must be ignored")
	assert.Equal(t, []uint64{0, 64, 100}, v.Partition())
}

func TestBadPartitionerRejected(t *testing.T) {
	queues := simQueues(t, "gpu,cpu")

	sess := NewSession(WithPartitioner(func(n uint64, queues []device.Queue) ([]uint64, error) {
		return []uint64{0, n}, nil // wrong length for two devices
	}))
	_, err := New[float32](sess, queues, 100)
	assert.Error(t, err)
}
