package sim

import (
	"encoding/binary"
	"sync"

	"github.com/devec-ml/devec/device"
)

// event completes when the queue goroutine finished the operation.
type event struct {
	done chan struct{}
	err  error
}

func (e *event) Wait() error {
	<-e.done
	return e.err
}

type op struct {
	run func() error
	ev  *event
}

// Queue is an in-order command queue: one goroutine drains the op channel,
// so operations execute exactly in enqueue order while enqueue calls return
// immediately.
type Queue struct {
	dev *Device

	mu     sync.Mutex
	ops    chan op
	closed bool
}

func newQueue(d *Device) *Queue {
	q := &Queue{dev: d, ops: make(chan op, 64)}
	go func() {
		for o := range q.ops {
			o.ev.err = o.run()
			close(o.ev.done)
		}
	}()
	return q
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ops)
	}
}

func (q *Queue) Device() device.Device { return q.dev }

func (q *Queue) enqueue(opName string, run func() error) (device.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, device.Errorf(opName, device.InvalidQueue, "queue released")
	}
	ev := &event{done: make(chan struct{})}
	q.ops <- op{run: run, ev: ev}
	return ev, nil
}

func simBuffer(opName string, b device.Buffer) (*Buffer, error) {
	sb, ok := b.(*Buffer)
	if !ok || sb.data == nil {
		return nil, device.Errorf(opName, device.InvalidValue, "foreign or released buffer")
	}
	return sb, nil
}

func (q *Queue) EnqueueWrite(dst device.Buffer, offset uint64, src []byte) (device.Event, error) {
	const opName = "sim.EnqueueWrite"
	b, err := simBuffer(opName, dst)
	if err != nil {
		return nil, err
	}
	if offset+uint64(len(src)) > b.Size() {
		return nil, device.Errorf(opName, device.InvalidValue,
			"write [%d,%d) exceeds buffer size %d", offset, offset+uint64(len(src)), b.Size())
	}
	return q.enqueue(opName, func() error {
		copy(b.data[offset:], src)
		return nil
	})
}

func (q *Queue) EnqueueRead(src device.Buffer, offset uint64, dst []byte) (device.Event, error) {
	const opName = "sim.EnqueueRead"
	b, err := simBuffer(opName, src)
	if err != nil {
		return nil, err
	}
	if offset+uint64(len(dst)) > b.Size() {
		return nil, device.Errorf(opName, device.InvalidValue,
			"read [%d,%d) exceeds buffer size %d", offset, offset+uint64(len(dst)), b.Size())
	}
	return q.enqueue(opName, func() error {
		copy(dst, b.data[offset:offset+uint64(len(dst))])
		return nil
	})
}

func (q *Queue) EnqueueCopy(dst, src device.Buffer, dstOff, srcOff, n uint64) (device.Event, error) {
	const opName = "sim.EnqueueCopy"
	db, err := simBuffer(opName, dst)
	if err != nil {
		return nil, err
	}
	sb, err := simBuffer(opName, src)
	if err != nil {
		return nil, err
	}
	if srcOff+n > sb.Size() || dstOff+n > db.Size() {
		return nil, device.Errorf(opName, device.InvalidValue,
			"copy of %d bytes exceeds a buffer bound", n)
	}
	return q.enqueue(opName, func() error {
		copy(db.data[dstOff:dstOff+n], sb.data[srcOff:srcOff+n])
		return nil
	})
}

func (q *Queue) EnqueueKernel(k device.Kernel, globalSize, localSize uint64, args []device.Arg) (device.Event, error) {
	const opName = "sim.EnqueueKernel"
	kn, ok := k.(*kern)
	if !ok {
		return nil, device.Errorf(opName, device.InvalidValue, "foreign kernel handle")
	}
	if localSize == 0 || globalSize == 0 || globalSize%localSize != 0 {
		return nil, device.Errorf(opName, device.InvalidValue,
			"bad launch geometry global=%d local=%d", globalSize, localSize)
	}
	if localSize > uint64(q.dev.info.MaxWorkgroupSize) {
		return nil, device.Errorf(opName, device.InvalidValue,
			"workgroup %d exceeds device limit %d", localSize, q.dev.info.MaxWorkgroupSize)
	}

	inv, err := kn.bind(args)
	if err != nil {
		return nil, err
	}
	return q.enqueue(opName, inv.run)
}

func (q *Queue) Finish() error {
	ev, err := q.enqueue("sim.Finish", func() error { return nil })
	if err != nil {
		return err
	}
	return ev.Wait()
}

func leUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
