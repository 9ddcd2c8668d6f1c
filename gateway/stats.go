// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package gateway

import (
	"sync"
	"time"
)

// StatEntry describes one reception for the bounded history ring.
type StatEntry struct {
	At      time.Time `json:"at"`
	Tmst    uint32    `json:"tmst"`
	DevAddr uint32    `json:"devaddr"` // device address as carried in the LoRaWAN header
	Chan    uint8     `json:"chan"`
	Sf      byte      `json:"sf"`
	Rssi    int       `json:"rssi"`
}

// Counters are the gateway-wide counts, monotonic for the process lifetime.
type Counters struct {
	PerSF      [6]uint32 `json:"per_sf"` // receptions per spreading factor, SF7 first
	RxOK       uint32    `json:"rx_ok"`
	RxCrcBad   uint32    `json:"rx_crc_bad"` // counted separately, never forwarded
	RxDropped  uint32    `json:"rx_dropped"` // arrived while the previous frame was undrained
	RxTimeouts uint32    `json:"rx_timeouts"`
	TxOK       uint32    `json:"tx_ok"`
	Boots      uint32    `json:"boots"`
	Resets     uint32    `json:"resets"` // radio re-inits after a stuck TX
}

// Stats keeps the bounded reception history and the aggregate counters. All mutation happens
// from the gateway's worker context; the mutex only exists so the status publisher can take a
// consistent snapshot from its own goroutine.
type Stats struct {
	mu    sync.Mutex
	ring  []StatEntry
	next  int
	count int
	c     Counters
}

func newStats(depth int) *Stats {
	return &Stats{ring: make([]StatEntry, depth)}
}

// Record appends an entry, overwriting the oldest once the ring is full, and bumps the
// per-spreading-factor counter.
func (s *Stats) Record(e StatEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = e
	s.next = (s.next + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}
	if e.Sf >= 7 && e.Sf <= 12 {
		s.c.PerSF[e.Sf-7]++
	}
	s.c.RxOK++
}

func (s *Stats) countCrcBad()  { s.mu.Lock(); s.c.RxCrcBad++; s.mu.Unlock() }
func (s *Stats) countDropped() { s.mu.Lock(); s.c.RxDropped++; s.mu.Unlock() }
func (s *Stats) countTimeout() { s.mu.Lock(); s.c.RxTimeouts++; s.mu.Unlock() }
func (s *Stats) countTxOK()    { s.mu.Lock(); s.c.TxOK++; s.mu.Unlock() }
func (s *Stats) countBoot()    { s.mu.Lock(); s.c.Boots++; s.mu.Unlock() }
func (s *Stats) countReset()   { s.mu.Lock(); s.c.Resets++; s.mu.Unlock() }

// Snapshot returns the counters plus the history ordered oldest to newest.
func (s *Stats) Snapshot() (Counters, []StatEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := make([]StatEntry, 0, s.count)
	start := s.next - s.count
	for i := 0; i < s.count; i++ {
		hist = append(hist, s.ring[(start+i+len(s.ring))%len(s.ring)])
	}
	return s.c, hist
}
