// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package gateway

import (
	"fmt"
	"time"

	"github.com/things4u/loragw/sx1276"
)

// step advances the state machine by one cycle. ev tells it whether a DIO edge was latched
// since the last cycle; what the edge means is decided here by reading the IRQ flags register,
// synchronously, in the worker context.
func (g *Gateway) step(ev bool) {
	switch g.state {
	case StateInit:
		g.stepInit()
	case StateScan:
		g.stepScan()
	case StateCad:
		if g.txReady() {
			g.startTx()
			return
		}
		g.stepCad(ev)
	case StateRx:
		// Idle continuous receive is still passive scanning: a due downlink preempts it
		// unless a reception is actually in progress.
		if !ev && g.txReady() && !g.radio.Receiving() {
			g.startTx()
			return
		}
		g.stepRx(ev)
	case StateTx:
		// transient, startTx moves straight to TXDONE
	case StateTxDone:
		g.stepTxDone(ev)
	}
}

// stepInit programs the radio from scratch. A version-register mismatch is retried a bounded
// number of times before the hardware is declared dead.
func (g *Gateway) stepInit() {
	err := g.radio.Init(EU868Channels[g.chanIdx], g.sf, g.cfg.SyncWord)
	if err != nil {
		g.initTries++
		g.log("init attempt %d: %s", g.initTries, err)
		if g.initTries >= initRetries {
			g.fail(fmt.Errorf("gateway: radio init failed after %d attempts: %s", g.initTries, err))
			return
		}
		g.radio.Reset()
		return
	}
	g.initTries = 0
	g.radio.SetPower(byte(g.cfg.Power))
	g.hopAt = time.Now().Add(time.Duration(g.cfg.HopIntervalMs) * time.Millisecond)
	g.log("radio up: channel %d (%dHz) SF%d cad=%v hop=%v",
		g.chanIdx, EU868Channels[g.chanIdx], g.sf, g.cfg.CAD, g.cfg.Hop)
	g.state = StateScan
}

// stepScan decides what to listen with next. A pending downlink preempts passive scanning;
// it never preempts an in-progress reception because SCAN only runs between receptions.
func (g *Gateway) stepScan() {
	if g.txReady() {
		g.startTx()
		return
	}
	if g.hopDue() && !g.radio.Receiving() {
		g.radio.SetOpMode(sx1276.MODE_STANDBY)
		g.hop()
	}
	if g.cfg.CAD {
		g.enterCad()
	} else {
		g.enterRx(sx1276.MODE_RX_CONT)
	}
}

func (g *Gateway) enterRx(mode byte) {
	g.radio.SetOpMode(mode)
	g.state = StateRx
	g.deadline = time.Now().Add(rxTimeout)
}

func (g *Gateway) enterCad() {
	g.radio.SetOpMode(sx1276.MODE_STANDBY)
	g.radio.SetOpMode(sx1276.MODE_CAD)
	g.settle()
	g.state = StateCad
	g.deadline = time.Now().Add(cadTimeout)
}

// stepCad waits for the channel-activity check to conclude. Detected activity switches to a
// single reception; a concluded check without activity restarts it; blowing the deadline falls
// back to SCAN, advancing the channel first when hopping is on.
func (g *Gateway) stepCad(ev bool) {
	if ev {
		irq := g.radio.IrqFlags()
		switch {
		case irq&sx1276.IRQ_CADDETECT != 0:
			g.radio.ClearIrq(0xFF)
			g.settle()
			if g.radio.CurrentRssi() >= g.rssiLimit() {
				g.enterRx(sx1276.MODE_RX_SINGLE)
				return
			}
			// Below the floor: noise tripped the detector, keep scanning.
			g.enterCad()
		case irq&sx1276.IRQ_CADDONE != 0:
			g.radio.ClearIrq(0xFF)
			g.enterCad()
		default:
			g.radio.ClearIrq(0xFF) // spurious
		}
		return
	}
	if time.Now().After(g.deadline) {
		if g.cfg.Hop {
			g.radio.SetOpMode(sx1276.MODE_STANDBY)
			g.hop()
		}
		g.state = StateScan
	}
}

// stepRx waits for receive-done or receive-timeout. On receive-done the packet is drained out
// of the FIFO right here; a CRC failure discards it before it gets anywhere near the network,
// and a reception arriving while the previous frame is still undrained is dropped, not queued.
func (g *Gateway) stepRx(ev bool) {
	if ev {
		irq := g.radio.IrqFlags()
		switch {
		case irq&sx1276.IRQ_RXDONE != 0:
			tmst := g.Tmst()
			pkt, err := g.radio.ReadPacket(irq)
			g.radio.ClearIrq(0xFF)
			if err != nil {
				// Transient bus weirdness, the next cycle rereads.
				g.log("rx: %s", err)
				g.state = StateScan
				return
			}
			if !pkt.CrcOK {
				g.stats.countCrcBad()
				g.state = StateScan
				return
			}
			g.deliver(pkt, tmst)
			g.state = StateScan
		case irq&sx1276.IRQ_RXTIMEOUT != 0:
			g.radio.ClearIrq(0xFF)
			g.stats.countTimeout()
			g.state = StateScan
		default:
			g.radio.ClearIrq(0xFF) // spurious
		}
		return
	}
	if time.Now().After(g.deadline) {
		g.stats.countTimeout()
		g.state = StateScan
	}
}

// deliver pushes a validated reception towards the network sender and records it.
func (g *Gateway) deliver(pkt *sx1276.RxPacket, tmst uint32) {
	up := &UplinkFrame{
		Payload: pkt.Payload,
		Tmst:    tmst,
		Chan:    uint8(g.chanIdx),
		Freq:    EU868Channels[g.chanIdx],
		Sf:      g.sf,
		Rssi:    pkt.Rssi,
		Snr:     pkt.Snr,
	}
	select {
	case g.rxChan <- up:
	default:
		g.stats.countDropped()
		return
	}
	g.stats.Record(StatEntry{
		At:      time.Now(),
		Tmst:    tmst,
		DevAddr: devAddr(pkt.Payload),
		Chan:    uint8(g.chanIdx),
		Sf:      g.sf,
		Rssi:    pkt.Rssi,
	})
}

// devAddr pulls the device address out of a LoRaWAN uplink header (bytes 1..4, little endian).
func devAddr(payload []byte) uint32 {
	if len(payload) < 5 {
		return 0
	}
	return uint32(payload[1]) | uint32(payload[2])<<8 |
		uint32(payload[3])<<16 | uint32(payload[4])<<24
}

// txReady reports whether the pending downlink's transmit window has arrived.
func (g *Gateway) txReady() bool {
	if g.down == nil {
		return false
	}
	if g.down.Immediate {
		return true
	}
	due := g.start.Add(time.Duration(g.down.Tmst) * time.Microsecond)
	return !time.Now().Before(due.Add(-txLead))
}

// startTx programs the downlink's transmit parameters and fires it. Entered from SCAN, CAD
// or idle RX; transmission preempts passive scanning, never an in-progress reception.
func (g *Gateway) startTx() {
	g.state = StateTx
	tx := g.down
	g.radio.SetOpMode(sx1276.MODE_STANDBY)
	g.radio.SetFrequency(tx.Freq)
	g.radio.SetSpreadingFactor(tx.Sf)
	if tx.NoCRC {
		g.radio.SetCrc(false)
	}
	pw := g.cfg.Power
	if tx.Power != 0 {
		pw = int(tx.Power)
	}
	g.radio.SetPower(byte(pw))
	g.radio.SetInvertIQ(tx.InvertPolar)
	if err := g.radio.Transmit(tx.Data); err != nil {
		g.log("tx: %s", err)
		g.txEvt <- TxResult{tx, "TX_PAYLOAD"}
		g.down = nil
		g.state = StateScan
		return
	}
	g.log("tx %d bytes SF%d @%dHz", len(tx.Data), tx.Sf, tx.Freq)
	g.state = StateTxDone
	g.deadline = time.Now().Add(txTimeout)
}

// stepTxDone waits for the transmit-done event, then restores the receive configuration.
// Exceeding the hard deadline means the radio is stuck mid-TX and gets a full reset.
func (g *Gateway) stepTxDone(ev bool) {
	if ev {
		irq := g.radio.IrqFlags()
		if irq&sx1276.IRQ_TXDONE == 0 {
			g.radio.ClearIrq(0xFF) // spurious
			return
		}
		g.radio.ClearIrq(0xFF)
		g.stats.countTxOK()
		g.txEvt <- TxResult{g.down, ""}
		g.down = nil
		g.lastTxEnd = time.Now()
		g.restoreRx()
		g.state = StateScan
		return
	}
	if time.Now().After(g.deadline) {
		g.log("tx stuck, resetting radio")
		g.txEvt <- TxResult{g.down, "TX_TIMEOUT"}
		g.down = nil
		g.stats.countReset()
		g.radio.Reset()
		g.initTries = 0
		g.state = StateInit
	}
}

// restoreRx undoes the downlink's radio programming after a transmission. Reprogramming the
// spreading factor also turns payload CRC back on for receive.
func (g *Gateway) restoreRx() {
	g.radio.SetOpMode(sx1276.MODE_STANDBY)
	g.radio.SetInvertIQ(false)
	g.radio.SetFrequency(EU868Channels[g.chanIdx])
	g.radio.SetSpreadingFactor(g.sf)
	g.radio.SetPower(byte(g.cfg.Power))
}

// settle sleeps the tunable minimum the transceiver needs after a frequency or mode write
// before RSSI or activity readings can be trusted.
func (g *Gateway) settle() {
	us := g.cfg.RssiWaitUs
	if time.Since(g.lastTxEnd) < time.Second {
		us = g.cfg.RssiWaitDownUs
	}
	time.Sleep(time.Duration(us) * time.Microsecond)
}

// rssiLimit picks the activity floor for the current timing regime.
func (g *Gateway) rssiLimit() int {
	if time.Since(g.lastTxEnd) < time.Second {
		return g.cfg.CadRssiMinDown
	}
	return g.cfg.CadRssiMin
}
