package utilization

import (
	"context"
	"testing"
	"time"

	"github.com/ALEYI17/InfraSight_infer/internal/device"
)

func TestSamplerRecordsDeviceBusy(t *testing.T) {
	dev := device.New(3, device.Options{})
	dev.Alloc(2 << 20)
	s := NewSampler(5*time.Millisecond, dev)

	ctx, cancel := context.WithCancel(context.Background())
	done := s.Run(ctx)

	q := dev.NewQueue()
	deadline := time.Now().Add(60 * time.Millisecond)
	for time.Now().Before(deadline) {
		_ = q.Exec(time.Millisecond, nil)
		_ = q.Sync()
	}
	cancel()
	<-done
	_ = q.Close()

	samples := s.Device(3)
	if len(samples) == 0 {
		t.Fatal("no device samples")
	}
	var busiest float64
	for _, ds := range samples {
		if ds.BusyPct < 0 || ds.BusyPct > 100 {
			t.Fatalf("busy %% out of range: %v", ds.BusyPct)
		}
		if ds.AllocatedMB != 2 {
			t.Fatalf("allocated = %v MB", ds.AllocatedMB)
		}
		busiest = max(busiest, ds.BusyPct)
	}
	if busiest == 0 {
		t.Fatal("device never reported busy")
	}
	for _, hs := range s.Host() {
		if hs.UserPct < 0 || hs.KernelPct < 0 || hs.PeakRSSMB <= 0 {
			t.Fatalf("host sample = %+v", hs)
		}
	}
	if len(s.Device(99)) != 0 {
		t.Fatal("samples for an unknown device")
	}
}
