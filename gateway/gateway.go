// Copyright 2018 by Thorsten von Eicken, see LICENSE file

// The gateway package contains the single-channel gateway's modem state machine: the logic
// that drives an sx1276 through receive/transmit/channel-activity-detection cycles and hands
// payloads between the hardware-event goroutines and the main processing loop.
//
// All radio register access happens from one worker goroutine, the "main context". The DIO
// edge goroutines only latch a pending-event marker (see mailbox.go); they never perform bus
// transactions. Received frames are delivered on RxChan, downlink instructions are accepted on
// TxChan, and completed or refused downlinks are reported on TxEvt. In general errors during
// operation are tolerated and retried; a hardware failure during initialization is fatal, the
// worker exits and RxChan is closed, with the error available from the Error function.
package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/things4u/loragw"
	"github.com/things4u/loragw/semtech"
	"github.com/things4u/loragw/sx1276"
)

const rxChanCap = 1 // a single inbound frame may be in flight, see UplinkFrame
const txChanCap = 4 // queue up to 4 downlink instructions before blocking

// Per-state deadlines. Every wait state carries one so a wedged radio can never hang the main
// loop: CAD and RX fall back to scanning, an overdue TX forces a full re-init.
const (
	initRetries = 5
	cadTimeout  = 150 * time.Millisecond
	rxTimeout   = 3 * time.Second
	txTimeout   = 5 * time.Second
	// txLead is the scheduling lead before a downlink's tmst; a downlink more than txLateMax
	// past its tmst is refused as too late.
	txLead    = time.Millisecond
	txLateMax = 500 * time.Millisecond
	tick      = 5 * time.Millisecond
)

// State is the modem's operating state. It is owned exclusively by the worker; the edge
// goroutines never touch it.
type State byte

const (
	StateInit State = iota
	StateScan
	StateCad
	StateRx
	StateTx
	StateTxDone
)

var stateNames = []string{"INIT", "SCAN", "CAD", "RX", "TX", "TXDONE"}

func (s State) String() string { return stateNames[s] }

// UplinkFrame is one received LoRa frame plus its radio metadata, headed for the network
// server. At most one frame is in flight at a time: a reception arriving before the previous
// frame was drained from RxChan is dropped and counted, never queued.
type UplinkFrame struct {
	Payload []byte
	Tmst    uint32 // gateway microsecond counter at rx-done
	Chan    uint8
	Freq    uint32
	Sf      byte
	Rssi    int // corrected, dBm
	Snr     float64
}

// TxResult reports the fate of a downlink: Error is empty after a successful transmission and
// holds a txpk_ack error code otherwise.
type TxResult struct {
	Pkt   *semtech.TxPacket
	Error string
}

// Gateway owns the radio and runs the modem state machine. Create with New, start the worker
// with Run.
type Gateway struct {
	RxChan <-chan *UplinkFrame // received uplinks
	TxChan chan<- *semtech.TxPacket
	TxEvt  <-chan TxResult // downlink completions and refusals

	cfg   Config
	radio *sx1276.Radio
	dio   []loragw.GPIO
	log   sx1276.LogPrintf
	stats *Stats

	// worker-owned state
	state     State
	chanIdx   int
	sf        byte
	down      *semtech.TxPacket // pending outbound frame, nil if none
	deadline  time.Time         // current state's deadline
	hopAt     time.Time
	lastTxEnd time.Time // selects the post-TX RSSI regime
	initTries int
	start     time.Time // epoch of the microsecond counter
	errMu     sync.Mutex
	err       error // fatal error, written by the worker via fail

	mbox   *mailbox
	rxChan chan *UplinkFrame
	txChan chan *semtech.TxPacket
	txEvt  chan TxResult
	ctl    chan ctlMsg
	stop   chan struct{}
}

type ctlKind byte

const (
	ctlSetSF ctlKind = iota
	ctlSetChannel
	ctlRestart
)

type ctlMsg struct {
	kind ctlKind
	val  int
}

// New assembles a gateway around an initialized sx1276 register interface. The dio slice holds
// the event pins in DIO0..DIO2 order; entries may be nil (or repeat the same pin) depending on
// the board. The configuration must have passed Validate.
func New(radio *sx1276.Radio, dio []loragw.GPIO, cfg Config, logger sx1276.LogPrintf) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		radio:   radio,
		dio:     dio,
		log:     func(format string, v ...interface{}) {},
		stats:   newStats(cfg.StatDepth),
		state:   StateInit,
		chanIdx: cfg.Channel,
		sf:      byte(cfg.SF),
		start:   time.Now(),
		mbox:    newMailbox(),
		rxChan:  make(chan *UplinkFrame, rxChanCap),
		txChan:  make(chan *semtech.TxPacket, txChanCap),
		txEvt:   make(chan TxResult, txChanCap),
		ctl:     make(chan ctlMsg, 4),
		stop:    make(chan struct{}),
	}
	if logger != nil {
		g.log = func(format string, v ...interface{}) { logger("gateway: "+format, v...) }
	}
	g.RxChan = g.rxChan
	g.TxChan = g.txChan
	g.TxEvt = g.txEvt
	return g
}

// Error returns the persistent error that stopped the worker, if any. May be called from
// any goroutine.
func (g *Gateway) Error() error {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.err
}

// fail records the fatal error that stops the worker. Only the worker writes it; the mutex
// makes the error safe to read from other goroutines via Error.
func (g *Gateway) fail(err error) {
	g.errMu.Lock()
	g.err = err
	g.errMu.Unlock()
}

// Stats returns the statistics collector for snapshotting.
func (g *Gateway) Stats() *Stats { return g.stats }

// Tmst returns the gateway's rolling microsecond counter.
func (g *Gateway) Tmst() uint32 {
	return uint32(time.Since(g.start) / time.Microsecond)
}

// SetSpreadingFactor asks the worker to switch the live spreading factor, without a radio
// reset. Used by the remote-management datagrams.
func (g *Gateway) SetSpreadingFactor(sf byte) { g.ctl <- ctlMsg{ctlSetSF, int(sf)} }

// SetChannel asks the worker to switch the active channel index.
func (g *Gateway) SetChannel(idx int) { g.ctl <- ctlMsg{ctlSetChannel, idx} }

// Restart asks the worker to put the radio through a full reset and re-initialization.
func (g *Gateway) Restart() { g.ctl <- ctlMsg{ctlRestart, 0} }

// Close stops the worker. The radio is left in sleep mode.
func (g *Gateway) Close() { close(g.stop) }

// Run is the gateway's main processing loop and must be called exactly once, typically as a
// goroutine. It owns every radio register transaction; it wakes up on latched DIO events,
// downlink submissions, control requests, or a periodic tick that enforces deadlines and the
// hop schedule. Run returns when a fatal hardware error is hit or Close is called, closing
// RxChan either way.
func (g *Gateway) Run() {
	g.stats.countBoot()
	g.watchPins()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for g.err == nil {
		select {
		case <-g.mbox.notify:
		case tx := <-g.txChan:
			g.scheduleDownlink(tx)
		case c := <-g.ctl:
			g.applyCtl(c)
		case <-ticker.C:
		case <-g.stop:
			g.radio.SetOpMode(sx1276.MODE_SLEEP)
			close(g.rxChan)
			return
		}
		ev := g.mbox.take()
		g.step(ev != evNone)
	}
	g.log("worker exiting, %s", g.err)
	close(g.rxChan)
}

// watchPins spawns one edge goroutine per distinct DIO pin. The goroutines convert
// WaitForEdge into mailbox publishes and nothing else.
func (g *Gateway) watchPins() {
	seen := map[int]bool{}
	for i, pin := range g.dio {
		if pin == nil || seen[pin.Number()] {
			continue
		}
		seen[pin.Number()] = true
		ev := event(1 << uint(i))
		if err := pin.In(loragw.GpioRisingEdge); err != nil {
			g.fail(fmt.Errorf("gateway: cannot watch dio%d: %s", i, err))
			return
		}
		go func(pin loragw.GPIO, ev event) {
			// Make sure we're not missing an initial edge due to a race condition.
			if pin.Read() == loragw.GpioHigh {
				g.mbox.publish(ev)
			}
			for {
				if pin.WaitForEdge(time.Second) {
					if pin.Read() == loragw.GpioHigh {
						g.mbox.publish(ev)
					}
				} else if pin.Read() == loragw.GpioHigh {
					// WaitForEdge timed out yet the pin is active: the driver or
					// epoll failed us, don't lose the event.
					g.mbox.publish(ev)
				}
				select {
				case <-g.stop:
					return
				default:
				}
			}
		}(pin, ev)
	}
}

// scheduleDownlink validates and accepts a downlink instruction. Only one outbound frame
// exists at a time; a second instruction while one is pending is refused, not queued.
func (g *Gateway) scheduleDownlink(tx *semtech.TxPacket) {
	if g.down != nil {
		g.txEvt <- TxResult{tx, "COLLISION_PACKET"}
		return
	}
	if len(tx.Data) == 0 || len(tx.Data) > 128 {
		g.txEvt <- TxResult{tx, "TX_PAYLOAD"}
		return
	}
	if tx.Sf == 0 {
		tx.Sf = g.sf
	}
	if tx.Sf < 7 || tx.Sf > 12 {
		g.txEvt <- TxResult{tx, "TX_DATARATE"}
		return
	}
	if tx.Freq == 0 {
		tx.Freq = EU868Channels[g.chanIdx]
	}
	if !tx.Immediate {
		due := g.start.Add(time.Duration(tx.Tmst) * time.Microsecond)
		if time.Since(due) > txLateMax {
			g.txEvt <- TxResult{tx, "TOO_LATE"}
			return
		}
	}
	g.down = tx
}

// applyCtl executes a remote-management request from the worker context. Spreading factor and
// channel changes are applied to the live radio without a reset; a restart goes the full way
// through INIT.
func (g *Gateway) applyCtl(c ctlMsg) {
	switch c.kind {
	case ctlSetSF:
		if c.val < 7 || c.val > 12 {
			g.log("ignoring bad SF%d", c.val)
			return
		}
		g.sf = byte(c.val)
		if g.state != StateTx && g.state != StateTxDone {
			g.radio.SetOpMode(sx1276.MODE_STANDBY)
			g.radio.SetSpreadingFactor(g.sf)
			g.state = StateScan
		}
	case ctlSetChannel:
		if c.val < 0 || c.val >= len(EU868Channels) {
			g.log("ignoring bad channel %d", c.val)
			return
		}
		g.chanIdx = c.val
		if g.state != StateTx && g.state != StateTxDone {
			g.radio.SetOpMode(sx1276.MODE_STANDBY)
			g.radio.SetFrequency(EU868Channels[g.chanIdx])
			g.state = StateScan
		}
	case ctlRestart:
		g.stats.countReset()
		g.radio.Reset()
		g.initTries = 0
		g.state = StateInit
	}
}
