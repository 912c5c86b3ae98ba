package timeserie

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/ALEYI17/InfraSight_infer/pkg/types"
)

func rec(h, d, i time.Duration) types.TimingRecord {
	return types.TimingRecord{Host: h, Device: d, Interface: i}
}

func TestCollectorSeries(t *testing.T) {
	tc := NewTimeSeriesCollector(1, 2)
	tc.Update(1, 0, [types.NumStages]types.TimingRecord{rec(1, 2, 3), rec(10, 20, 30), rec(4, 5, 6)})
	tc.Update(2, 1, [types.NumStages]types.TimingRecord{rec(1, 1, 1), rec(11, 21, 31), rec(1, 1, 1)})
	tc.SetWindow(100, 300)

	if tc.Len() != 2 {
		t.Fatalf("len = %d", tc.Len())
	}
	if got := tc.Groups(); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("groups = %v", got)
	}
	if got := tc.Series(types.StageDispatch, SourceDevice); !reflect.DeepEqual(got, []time.Duration{20, 21}) {
		t.Fatalf("compute device series = %v", got)
	}

	snap := tc.Snapshot()
	if snap.Device != 1 || snap.Thread != 2 || snap.WallTime() != 200 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := snap.Samples[0].Latency(SourceInterface); got != 39 {
		t.Fatalf("latency = %v", got)
	}

	tc.Clear()
	if tc.Len() != 0 || tc.Snapshot().WallTime() != 0 {
		t.Fatal("clear kept samples or window")
	}
	if len(snap.Samples) != 2 {
		t.Fatal("snapshot shares storage with the collector")
	}
}

func TestRunReportsProgress(t *testing.T) {
	tc := NewTimeSeriesCollector(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := tc.Run(ctx, 5*time.Millisecond)

	tc.Update(1, 0, [types.NumStages]types.TimingRecord{})
	tc.Update(2, 0, [types.NumStages]types.TimingRecord{})
	deadline := time.After(time.Second)
	for {
		select {
		case p := <-ch:
			if p.Units == 2 {
				if p.Latest.Seq != 2 {
					t.Fatalf("latest = %+v", p.Latest)
				}
				cancel()
				for range ch {
				}
				return
			}
		case <-deadline:
			t.Fatal("no progress reported")
		}
	}
}
