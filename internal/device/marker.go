package device

import (
	"sync"
	"time"

	"github.com/ALEYI17/InfraSight_infer/pkg/types"
	"github.com/pkg/errors"
)

// Marker records the host and device clocks at the moment its queue reaches it.
// It may be placed again once the previous placement has been consumed.
type Marker struct {
	dev    *Device
	timing bool

	mu      sync.Mutex
	reached chan struct{}
	host    int64
	devTime int64
}

func (d *Device) NewMarker(timing bool) *Marker {
	return &Marker{dev: d, timing: timing}
}

func (m *Marker) PlaceOn(q types.Queue) error {
	sq, ok := q.(*Queue)
	if !ok {
		return errors.Errorf("marker cannot be placed on %T", q)
	}
	ch := make(chan struct{})
	m.mu.Lock()
	m.reached = ch
	m.mu.Unlock()
	return sq.submit(func() {
		m.mu.Lock()
		m.host = NowNanos()
		m.devTime = m.dev.Now()
		m.mu.Unlock()
		close(ch)
	})
}

func (m *Marker) Wait() error {
	m.mu.Lock()
	ch := m.reached
	m.mu.Unlock()
	if ch == nil {
		return errors.New("marker was never placed")
	}
	<-ch
	return nil
}

func (m *Marker) HostStamp() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.host
}

func (m *Marker) stamps() (host, dev int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.host, m.devTime
}

func (m *Marker) HostTimeFrom(start types.Marker) time.Duration {
	s, ok := start.(*Marker)
	if !ok || !m.timing || !s.timing {
		return 0
	}
	end, _ := m.stamps()
	begin, _ := s.stamps()
	return nonNegative(end - begin)
}

func (m *Marker) DevTimeFrom(start types.Marker) time.Duration {
	s, ok := start.(*Marker)
	if !ok {
		return 0
	}
	_, end := m.stamps()
	_, begin := s.stamps()
	return nonNegative(end - begin)
}

func nonNegative(ns int64) time.Duration {
	if ns < 0 {
		return 0
	}
	return time.Duration(ns)
}
