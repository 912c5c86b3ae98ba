package device

import (
	"errors"
	"testing"
	"time"
)

func TestQueueRunsInOrder(t *testing.T) {
	d := New(0, Options{})
	q := d.NewQueue()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if err := q.Exec(10*time.Microsecond, func() { got = append(got, i) }); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.Sync(); err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	if d.Stats().Queues != 1 || d.Stats().BusyNanos < int64(50*time.Microsecond) {
		t.Fatalf("stats = %+v", d.Stats())
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if err := q.Exec(0, nil); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("exec on closed queue: %v", err)
	}
	if d.Stats().Queues != 0 {
		t.Fatal("closed queue still counted")
	}
}

func TestMarkerTimes(t *testing.T) {
	d := New(0, Options{Drift: 2})
	q := d.NewQueue()
	defer q.Close()
	begin, end := d.NewMarker(true), d.NewMarker(true)

	if err := end.Wait(); err == nil {
		t.Fatal("waiting on a marker never placed succeeded")
	}
	if err := begin.PlaceOn(q); err != nil {
		t.Fatal(err)
	}
	_ = q.Exec(2*time.Millisecond, nil)
	if err := end.PlaceOn(q); err != nil {
		t.Fatal(err)
	}
	if err := end.Wait(); err != nil {
		t.Fatal(err)
	}
	host := end.HostTimeFrom(begin)
	if host < 2*time.Millisecond {
		t.Fatalf("host time = %v", host)
	}
	// the device clock runs twice as fast
	if dev := end.DevTimeFrom(begin); dev < 2*host-time.Millisecond {
		t.Fatalf("device time %v for host time %v", dev, host)
	}
	if begin.HostTimeFrom(end) != 0 {
		t.Fatal("negative durations must clamp to zero")
	}
	if end.HostStamp() <= begin.HostStamp() {
		t.Fatal("stamps out of order")
	}

	untimed := d.NewMarker(false)
	_ = untimed.PlaceOn(q)
	_ = untimed.Wait()
	if untimed.HostTimeFrom(begin) != 0 {
		t.Fatal("marker without timing reported host time")
	}
}

func TestQueueWaitOrdersAcrossQueues(t *testing.T) {
	d := New(0, Options{})
	a, b := d.NewQueue(), d.NewQueue()
	defer a.Close()
	defer b.Close()

	done := d.NewMarker(true)
	var stage string
	_ = a.Exec(3*time.Millisecond, func() { stage = "a" })
	_ = done.PlaceOn(a)
	_ = b.Wait(done)
	after := d.NewMarker(true)
	_ = b.Exec(0, func() {
		if stage != "a" {
			stage = "b ran first"
		}
	})
	_ = after.PlaceOn(b)
	_ = after.Wait()
	if stage != "a" {
		t.Fatalf("stage = %q", stage)
	}
	if after.HostStamp() < done.HostStamp() {
		t.Fatal("dependent work finished before its dependency")
	}
	if err := b.Wait(nil); err == nil {
		t.Fatal("wait on nil marker accepted")
	}
}

func TestCloseDrainsPending(t *testing.T) {
	d := New(0, Options{})
	q := d.NewQueue()
	ran := 0
	for i := 0; i < 3; i++ {
		_ = q.Exec(100*time.Microsecond, func() { ran++ })
	}
	_ = q.Close()
	if ran != 3 {
		t.Fatalf("close dropped work: ran %d", ran)
	}
}
