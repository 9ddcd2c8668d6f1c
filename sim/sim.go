// Package sim implements a software register file mimicking an SX1276 behind the loragw.SPI
// interface. It exists so the radio driver and the gateway's modem state machine can be tested
// on a host without a radio attached: tests inject receptions, complete transmissions and raise
// DIO edges the way the hardware would.
package sim

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/things4u/loragw"
)

// Chip is a simulated SX1276. It implements loragw.SPI; register semantics follow the subset of
// the datasheet the gateway exercises: auto-incrementing burst access except on the FIFO
// register, write-1-to-clear IRQ flags, and a FIFO pointer that advances on every FIFO access.
type Chip struct {
	mu   sync.Mutex
	regs [0x80]byte
	fifo [256]byte

	DIO0 *Pin // rx-done / tx-done / cad-done
	DIO1 *Pin // rx-timeout / cad-detected
	RST  *Pin

	txLog [][]byte // payloads that reached TX mode
}

// Register addresses the simulation gives behavior to, kept in sync with the sx1276 package.
const (
	regFifo      = 0x00
	regOpMode    = 0x01
	regFifoPtr   = 0x0D
	regRxCurr    = 0x10
	regIrqFlags  = 0x12
	regRxBytes   = 0x13
	regModemStat = 0x18
	regPktSnr    = 0x19
	regPktRssi   = 0x1A
	regCurRssi   = 0x1B
	regHopChan   = 0x1C
	regPayLen    = 0x22
	regVersion   = 0x42

	irqRxTimeout = 1 << 7
	irqRxDone    = 1 << 6
	irqCrcErr    = 1 << 5
	irqTxDone    = 1 << 3
	irqCadDone   = 1 << 2
	irqCadDetect = 1 << 0
)

// New returns a simulated chip reporting the expected version.
func New() *Chip {
	c := &Chip{DIO0: newPin(0), DIO1: newPin(1), RST: newPin(2)}
	c.regs[regVersion] = 0x12
	return c
}

// SetVersion overrides the version register, used to simulate a broken or absent chip.
func (c *Chip) SetVersion(v byte) {
	c.mu.Lock()
	c.regs[regVersion] = v
	c.mu.Unlock()
}

// Reg returns a raw register value.
func (c *Chip) Reg(addr byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[addr]
}

// SetReceiving fakes the modem-status signal/header-detected bits, as during an in-progress
// reception.
func (c *Chip) SetReceiving(on bool) {
	c.mu.Lock()
	if on {
		c.regs[regModemStat] = 0x0B
	} else {
		c.regs[regModemStat] = 0
	}
	c.mu.Unlock()
}

// SetRssi programs the momentary channel RSSI the chip reports, in dBm.
func (c *Chip) SetRssi(dBm int) {
	c.mu.Lock()
	c.regs[regCurRssi] = byte(dBm + 157)
	c.mu.Unlock()
}

// InjectRx loads a received packet into the FIFO, latches the rx-done IRQ (plus the CRC-error
// flag when crcOK is false) and raises DIO0 as the radio would.
func (c *Chip) InjectRx(payload []byte, snr float64, rssiRaw byte, crcOK bool) {
	c.mu.Lock()
	copy(c.fifo[:], payload)
	c.regs[regRxCurr] = 0
	c.regs[regRxBytes] = byte(len(payload))
	c.regs[regPktSnr] = byte(int8(snr * 4))
	c.regs[regPktRssi] = rssiRaw
	c.regs[regHopChan] = 0x40 // CRC on payload
	c.regs[regIrqFlags] |= irqRxDone
	if !crcOK {
		c.regs[regIrqFlags] |= irqCrcErr
	}
	c.mu.Unlock()
	c.DIO0.Raise()
}

// RxTimeout latches the receive-timeout IRQ and raises DIO1.
func (c *Chip) RxTimeout() {
	c.mu.Lock()
	c.regs[regIrqFlags] |= irqRxTimeout
	c.mu.Unlock()
	c.DIO1.Raise()
}

// CadDone latches the CAD-done IRQ, plus cad-detected if activity was "heard", and raises DIO0.
func (c *Chip) CadDone(detected bool) {
	c.mu.Lock()
	c.regs[regIrqFlags] |= irqCadDone
	if detected {
		c.regs[regIrqFlags] |= irqCadDetect
	}
	c.mu.Unlock()
	c.DIO0.Raise()
}

// TxLog returns the payloads that were transmitted so far.
func (c *Chip) TxLog() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.txLog))
	copy(out, c.txLog)
	return out
}

//===== loragw.SPI

// Tx performs one simulated SPI transaction: w[0] is the address with the write bit on top,
// the rest moves data in or out with the datasheet's auto-increment rules.
func (c *Chip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(w) == 0 {
		return nil
	}
	addr := w[0] & 0x7f
	write := w[0]&0x80 != 0
	raiseTx := false
	for i := 1; i < len(w); i++ {
		switch {
		case addr == regFifo:
			ptr := c.regs[regFifoPtr]
			if write {
				c.fifo[ptr] = w[i]
			} else if i < len(r) {
				r[i] = c.fifo[ptr]
			}
			c.regs[regFifoPtr] = ptr + 1
		case write:
			switch addr {
			case regIrqFlags:
				c.regs[addr] &^= w[i] // write 1 to clear
				// The DIO lines track their IRQ flags.
				if c.regs[addr]&(irqRxDone|irqTxDone|irqCadDone) == 0 {
					c.DIO0.Lower()
				}
				if c.regs[addr]&(irqRxTimeout|irqCadDetect) == 0 {
					c.DIO1.Lower()
				}
			case regOpMode:
				c.regs[addr] = w[i]
				if w[i]&0x07 == 0x03 { // TX: "send" the FIFO contents
					n := int(c.regs[regPayLen])
					pl := make([]byte, n)
					copy(pl, c.fifo[:n])
					c.txLog = append(c.txLog, pl)
					c.regs[regIrqFlags] |= irqTxDone
					c.regs[regOpMode] = w[i] &^ 0x07 // back to standby-ish
					raiseTx = true
				}
			default:
				c.regs[addr] = w[i]
			}
			addr++
		default:
			if i < len(r) {
				r[i] = c.regs[addr]
			}
			addr++
		}
	}
	if raiseTx {
		// Raise outside any state the caller might poll mid-transaction.
		go c.DIO0.Raise()
	}
	return nil
}

func (c *Chip) Speed(hz int64) error               { return nil }
func (c *Chip) Configure(mode int, bits int) error { return nil }
func (c *Chip) Close() error                       { return nil }

//===== loragw.GPIO

// Pin is a simulated GPIO pin whose edges tests raise by hand.
type Pin struct {
	num   int
	level atomic.Int32
	edge  chan struct{}
}

func newPin(num int) *Pin {
	return &Pin{num: num, edge: make(chan struct{}, 1)}
}

// Raise latches a rising edge on the pin.
func (p *Pin) Raise() {
	p.level.Store(loragw.GpioHigh)
	select {
	case p.edge <- struct{}{}:
	default:
	}
}

// Lower drops the pin level without signalling an edge.
func (p *Pin) Lower() { p.level.Store(loragw.GpioLow) }

func (p *Pin) In(edge int) error { return nil }
func (p *Pin) Read() int         { return int(p.level.Load()) }
func (p *Pin) Out(level int)     { p.level.Store(int32(level)) }
func (p *Pin) Number() int       { return p.num }

func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edge:
		return true
	case <-time.After(timeout):
		return false
	}
}
