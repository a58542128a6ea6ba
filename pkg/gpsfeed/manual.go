package gpsfeed

import (
	"sync"
	"time"
)

// Manual is a Source whose fixes are injected by the caller: operator
// overrides, fixed-position installs, and tests. Injected positions are
// treated as full 3D fixes so they always pass quality gating.
type Manual struct {
	mu     sync.Mutex
	closed bool
	fixes  chan PositionFix
}

// NewManual returns an empty manual source. It delivers nothing until
// Inject is called.
func NewManual() *Manual {
	return &Manual{fixes: make(chan PositionFix, 1)}
}

// Fixes returns the delivery channel. It is closed by Close.
func (m *Manual) Fixes() <-chan PositionFix { return m.fixes }

// Inject delivers a literal latitude/longitude as a usable fix. If a
// previous injection has not been consumed yet it is replaced: the latest
// position wins.
func (m *Manual) Inject(lat, lon float64) {
	m.InjectFix(PositionFix{
		Latitude:  lat,
		Longitude: lon,
		Quality:   Quality3D,
		Source:    SourceManual,
		Time:      time.Now().UTC(),
	})
}

// InjectFix delivers an arbitrary fix, replacing any undelivered one.
// Calls after Close are ignored.
func (m *Manual) InjectFix(fix PositionFix) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for {
		select {
		case m.fixes <- fix:
			return
		default:
			// Evict the undelivered fix and retry.
			select {
			case <-m.fixes:
			default:
			}
		}
	}
}

// Close stops the source and closes the fixes channel. Safe to call more
// than once.
func (m *Manual) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.fixes)
	}
	return nil
}
