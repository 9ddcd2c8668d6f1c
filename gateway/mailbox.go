// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package gateway

import "sync/atomic"

// The radio flags its events on up to three DIO lines. The edge goroutines watching those
// lines must never touch the SPI bus: classifying the event takes a register read, and bus
// transactions from a notification context could interleave with one in progress in the worker.
// So an edge only records which line fired; the worker drains the marker and reads the IRQ
// flags register itself.
type event uint32

const (
	evNone event = 0
	evDio0 event = 1 << 0 // rx-done / tx-done / cad-done
	evDio1 event = 1 << 1 // rx-timeout / cad-detected
	evDio2 event = 1 << 2 // frequency hop change
)

// mailbox is a single-producer/single-consumer depth-1 slot for the latest event. A second
// event published before the first is drained overwrites it; the worker is expected to drain
// faster than events arrive, and the dominant event (rx-done) cannot reoccur before the state
// machine leaves the receiving state.
type mailbox struct {
	pending atomic.Uint32
	notify  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// publish records the latest event and nudges the worker. Safe to call from an edge goroutine;
// performs no blocking operation.
func (m *mailbox) publish(e event) {
	m.pending.Store(uint32(e))
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// take removes and returns the pending event, evNone if there is none.
func (m *mailbox) take() event {
	return event(m.pending.Swap(0))
}
