// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package gateway

import "time"

// EU868Channels is the table of candidate center frequencies in Hz. Index 0 is the primary
// channel; a real gateway is expected to cover at least the first three. The last entry is the
// 10% duty-cycle response channel.
var EU868Channels = []uint32{
	868100000, // channel 0, primary
	868300000, // channel 1, mandatory
	868500000, // channel 2, mandatory
	867100000, // channel 3
	867300000,
	867500000,
	867700000,
	867900000,
	868800000,
	869525000, // responses channel (10%)
}

// hopDue reports whether the hop schedule has elapsed. The schedule is measured against
// elapsed time, not loop iterations.
func (g *Gateway) hopDue() bool {
	return g.cfg.Hop && time.Now().After(g.hopAt)
}

// hop advances the active channel index and reprograms the radio's frequency registers. It
// must only be called when the radio is not mid-reception; a hop during an active reception
// would corrupt the in-flight frame, so callers defer it until the reception concludes.
func (g *Gateway) hop() {
	g.chanIdx = (g.chanIdx + 1) % g.cfg.HopChannels
	g.radio.SetFrequency(EU868Channels[g.chanIdx])
	g.hopAt = time.Now().Add(time.Duration(g.cfg.HopIntervalMs) * time.Millisecond)
	g.log("hop to channel %d (%dHz)", g.chanIdx, EU868Channels[g.chanIdx])
}
