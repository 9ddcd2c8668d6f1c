// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package gateway

import "testing"

func Test_StatsRingEviction(t *testing.T) {
	s := newStats(3)
	for i := uint32(1); i <= 5; i++ {
		s.Record(StatEntry{Tmst: i, Sf: 7})
	}
	c, hist := s.Snapshot()
	if c.RxOK != 5 || c.PerSF[0] != 5 {
		t.Errorf("Counters got %+v expected 5 receptions", c)
	}
	if len(hist) != 3 {
		t.Fatalf("History length got %d expected 3", len(hist))
	}
	for i, want := range []uint32{3, 4, 5} {
		if hist[i].Tmst != want {
			t.Errorf("History[%d] got tmst %d expected %d", i, hist[i].Tmst, want)
		}
	}
}

func Test_StatsPartialRing(t *testing.T) {
	s := newStats(20)
	s.Record(StatEntry{Tmst: 7, Sf: 12})
	c, hist := s.Snapshot()
	if len(hist) != 1 || hist[0].Tmst != 7 {
		t.Fatalf("History got %+v expected one entry", hist)
	}
	if c.PerSF[5] != 1 {
		t.Errorf("Counters got %+v expected one SF12 reception", c)
	}
}
