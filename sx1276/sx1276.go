// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// The sx1276 package interfaces with a HopeRF RFM95/96/97/98 LoRa radio connected to an SPI bus.
//
// The RFM9x modules use a Semtech SX1276 radio chip. This package has also been tested with a
// Dorji DRF1278 module and it should work fine with other radio modules using the same chip.
//
// Unlike a self-contained driver, this package only provides the synchronous register-level
// operations the gateway's modem state machine sequences: programming frequency, spreading
// factor and power, switching operating modes, and moving payloads through the chip's FIFO.
// All calls perform SPI transactions and must therefore only be made from the gateway's main
// processing context, never from an edge-notification goroutine. The state machine itself lives
// in the gateway package.
//
// Only the explicit header mode is supported, this means that spreading factor 6 cannot be
// used.
package sx1276

import (
	"errors"
	"fmt"
	"time"

	"github.com/things4u/loragw"
)

// Radio provides register-level access to a Semtech SX127x LoRa radio.
type Radio struct {
	spi    loragw.SPI  // SPI device to access the radio
	rstPin loragw.GPIO // reset pin, may be nil if not wired
	mode   byte        // current operation mode
	log    LogPrintf   // function to use for logging
	debug  bool        // a logger was injected, dump registers on init
}

// RadioOpts contains options used when initializing a Radio.
type RadioOpts struct {
	Reset  loragw.GPIO // reset pin, may be nil
	Speed  int64       // SPI clock in Hz, 0 selects 8MHz
	Logger LogPrintf   // function to use for logging
}

// RxPacket is a received packet with stats, as read from the chip after a receive-done event.
type RxPacket struct {
	Payload []byte  // payload, excluding length & crc
	Snr     float64 // signal-to-noise in dB for packet
	Rssi    int     // rssi in dBm for packet, correction applied
	CrcOK   bool    // payload CRC present and valid
}

// rssiCorr is the offset the raw packet-rssi register needs on the HF port.
const rssiCorr = 157

// New initializes communication with an sx1276 given an SPI device. The chip is left in LoRa
// sleep mode; Init must be called to program the full configuration.
func New(dev loragw.SPI, opts RadioOpts) (*Radio, error) {
	r := &Radio{
		spi:    dev,
		rstPin: opts.Reset,
		mode:   255,
		log:    func(format string, v ...interface{}) {},
	}
	if opts.Logger != nil {
		r.log = opts.Logger
		r.debug = true
	}

	// Set SPI parameters.
	speed := opts.Speed
	if speed == 0 {
		speed = 8 * 1000 * 1000
	}
	if err := dev.Speed(speed); err != nil {
		return nil, fmt.Errorf("sx1276: cannot set speed, %v", err)
	}
	if err := dev.Configure(loragw.SPIMode0, 8); err != nil {
		return nil, fmt.Errorf("sx1276: cannot set mode, %v", err)
	}

	r.Reset()

	// Try to synchronize communication with the sx1276.
	sync := func(pattern byte) error {
		for n := 10; n > 0; n-- {
			// Doing write transactions explicitly to get OS errors.
			r.writeReg(REG_SYNC, pattern)
			if err := dev.Tx([]byte{REG_SYNC | 0x80, pattern}, []byte{0, 0}); err != nil {
				return fmt.Errorf("sx1276: %s", err)
			}
			// Read same thing back, we hope...
			if v := r.readReg(REG_SYNC); v == pattern {
				return nil
			}
		}
		return errors.New("sx1276: cannot sync with chip")
	}
	if err := sync(0xaa); err != nil {
		return nil, err
	}
	if err := sync(0x55); err != nil {
		return nil, err
	}

	r.SetOpMode(MODE_SLEEP)
	return r, nil
}

// Reset pulses the radio's reset pin if one is wired. The chip needs 5ms after the pulse before
// it accepts transactions.
func (r *Radio) Reset() {
	if r.rstPin == nil {
		return
	}
	r.rstPin.Out(loragw.GpioLow)
	time.Sleep(time.Millisecond)
	r.rstPin.Out(loragw.GpioHigh)
	time.Sleep(5 * time.Millisecond)
	r.mode = 255
}

// Version returns the chip version register, ChipVersion (0x12) for a functioning SX1276.
func (r *Radio) Version() byte { return r.readReg(REG_VERSION) }

// Init probes the version register and programs the base configuration, frequency, spreading
// factor and sync word. It returns an error if the chip does not identify as an SX1276; the
// caller decides how often to retry before giving up on the hardware.
func (r *Radio) Init(freq uint32, sf byte, syncWord byte) error {
	r.SetOpMode(MODE_SLEEP)
	if v := r.Version(); v != ChipVersion {
		return fmt.Errorf("sx1276: unexpected chip version %#x (want %#x)", v, ChipVersion)
	}

	// Write the configuration into the registers.
	for i := 0; i < len(configRegs)-1; i += 2 {
		r.writeReg(configRegs[i], configRegs[i+1])
	}
	r.mode = 255 // configRegs touched REG_OPMODE

	r.SetFrequency(freq)
	if err := r.SetSpreadingFactor(sf); err != nil {
		return err
	}
	r.writeReg(REG_SYNC, syncWord)
	r.SetOpMode(MODE_STANDBY)
	r.log("sx1276: version %#x, %dHz SF%d sync %#x", ChipVersion, freq, sf, syncWord)
	if r.debug {
		r.logRegs()
	}
	return nil
}

// SetFrequency changes the center frequency at which the radio transmits and receives.
//
// Frequency steps are in units of 32Mhz/2^19 = 61.03515625 Hz, so the programmed value is
// off by at most one step from the requested frequency.
func (r *Radio) SetFrequency(freq uint32) {
	frf := (uint64(freq) << 19) / 32000000
	r.writeReg(REG_FRFMSB, byte(frf>>16), byte(frf>>8), byte(frf))
}

// Frequency reads the frequency registers back and returns the center frequency in Hz.
func (r *Radio) Frequency() uint32 {
	frf := uint64(r.readReg(REG_FRFMSB))<<16 |
		uint64(r.readReg(REG_FRFMID))<<8 |
		uint64(r.readReg(REG_FRFLSB))
	return uint32(frf * 32000000 >> 19)
}

// SetSpreadingFactor programs the modem for the given spreading factor at 125kHz bandwidth,
// 4/5 coding rate, explicit headers and RX payload CRC. SF11 and SF12 get the mandatory
// low-data-rate optimization.
func (r *Radio) SetSpreadingFactor(sf byte) error {
	if sf < 7 || sf > 12 {
		return fmt.Errorf("sx1276: spreading factor SF%d out of range", sf)
	}
	r.writeReg(REG_MODEMCONF1, MC1_BW125|MC1_CR4_5)
	r.writeReg(REG_MODEMCONF2, sf<<MC2_SF_SHIFT|MC2_RXCRC)
	mc3 := byte(MC3_AGCAUTO)
	if sf >= 11 {
		mc3 |= MC3_LOWDATARATE
	}
	r.writeReg(REG_MODEMCONF3, mc3)
	return nil
}

// SetCrc turns physical-layer payload CRC generation on or off. Receive always runs with it
// on; LoRaWAN downlinks are transmitted without (the instruction's ncrc flag).
func (r *Radio) SetCrc(on bool) {
	mc2 := r.readReg(REG_MODEMCONF2)
	if on {
		mc2 |= MC2_RXCRC
	} else {
		mc2 &^= MC2_RXCRC
	}
	r.writeReg(REG_MODEMCONF2, mc2)
}

// SpreadingFactor reads the current spreading factor back from the modem config.
func (r *Radio) SpreadingFactor() byte {
	return r.readReg(REG_MODEMCONF2) >> MC2_SF_SHIFT
}

// SetPower configures the radio for the specified output power. It only supports the high-power
// amp because RFM9x modules don't have the lower-power amps connected to anything.
func (r *Radio) SetPower(dBm byte) {
	switch {
	case dBm < 2:
		dBm = 2
	case dBm > 20:
		dBm = 20
	}
	if dBm > 17 {
		r.writeReg(REG_PADAC, 0x87) // turn 20dBm mode on, this offsets PACONFIG by 3
		r.writeReg(REG_PACONFIG, 0xf0+dBm-5)
	} else {
		r.writeReg(REG_PADAC, 0x84)
		r.writeReg(REG_PACONFIG, 0xf0+dBm-2)
	}
}

// SetInvertIQ switches I/Q inversion on or off. Downlinks are transmitted inverted so nodes
// don't receive each other.
func (r *Radio) SetInvertIQ(invert bool) {
	if invert {
		r.writeReg(REG_INVERTIQ, 0x66)
	} else {
		r.writeReg(REG_INVERTIQ, 0x27)
	}
}

// SetOpMode changes the radio's operating mode and maps the DIO pins to the events relevant in
// that mode: rx-done/rx-timeout in the receive modes, cad-done/cad-detected in CAD, tx-done
// in TX, and nothing in the idle modes.
func (r *Radio) SetOpMode(mode byte) {
	mode &= OPMODE_MASK
	if r.mode == mode {
		return
	}

	switch mode {
	case MODE_TX:
		r.writeReg(REG_DIOMAPPING1, DIO0_TXDONE|DIO1_NOP|DIO2_NOP|DIO3_NOP)
	case MODE_RX_CONT, MODE_RX_SINGLE:
		r.writeReg(REG_DIOMAPPING1, DIO0_RXDONE|DIO1_RXTIMEOUT|DIO2_NOP|DIO3_NOP)
	case MODE_CAD:
		r.writeReg(REG_DIOMAPPING1, DIO0_CADDONE|DIO1_CADDETECT|DIO2_NOP|DIO3_NOP)
	default:
		// Mode used when switching, make sure we don't get an interrupt.
		r.writeReg(REG_DIOMAPPING1, DIO0_NOP|DIO1_NOP|DIO2_NOP|DIO3_NOP)
	}

	r.writeReg(REG_OPMODE, OPMODE_LORA|mode) // LoRa mode, HF port
	r.mode = mode
}

// OpMode returns the mode most recently set.
func (r *Radio) OpMode() byte { return r.mode }

// IrqFlags returns the IRQ flags register.
func (r *Radio) IrqFlags() byte { return r.readReg(REG_IRQFLAGS) }

// ClearIrq clears the given IRQ flags, 0xFF clears all of them.
func (r *Radio) ClearIrq(mask byte) { r.writeReg(REG_IRQFLAGS, mask) }

// CurrentRssi returns the channel's momentary RSSI in dBm. The radio needs a settle delay after
// a mode or frequency change before this reading means anything; observing that delay is the
// caller's business.
func (r *Radio) CurrentRssi() int {
	return int(r.readReg(REG_CURRSSI)) - rssiCorr
}

// Receiving checks whether a header has been detected and a reception is in progress.
func (r *Radio) Receiving() bool {
	if r.mode != MODE_RX_CONT && r.mode != MODE_RX_SINGLE {
		return false
	}
	// Signal-detected, signal-synchronized or header-valid bits.
	return r.readReg(REG_MODEMSTAT)&0x0B != 0
}

// ReadPacket drains a received packet out of the FIFO together with its signal stats. It is
// called after a receive-done event; the IRQ flags passed in are the ones the event handler
// already read so the CRC status doesn't need a second bus transaction.
func (r *Radio) ReadPacket(irq byte) (*RxPacket, error) {
	n := r.readReg(REG_RXBYTES)
	if n == 0 || n > 128 {
		return nil, fmt.Errorf("sx1276: bogus packet length %d", n)
	}

	// Point the FIFO at the packet and burst-read it.
	r.writeReg(REG_FIFOPTR, r.readReg(REG_FIFORXCURR))
	var wBuf, rBuf [129]byte
	wBuf[0] = REG_FIFO
	r.spi.Tx(wBuf[:n+1], rBuf[:n+1])
	payload := make([]byte, n)
	copy(payload, rBuf[1:n+1])

	// Grab SNR and RSSI.
	snr := float64(int8(r.readReg(REG_PKTSNR))) / 4
	rssi := int(r.readReg(REG_PKTRSSI)) - rssiCorr
	if snr < 0 {
		rssi += int(snr)
	}

	crcOK := irq&IRQ_CRCERR == 0 && r.readReg(REG_HOPCHAN)&HOP_CRCONPAYLOAD != 0
	return &RxPacket{Payload: payload, Snr: snr, Rssi: rssi, CrcOK: crcOK}, nil
}

// Transmit writes a payload into the FIFO and starts transmitting it. The caller is expected to
// have programmed frequency, spreading factor, power and I/Q inversion beforehand and to wait
// for the tx-done event afterwards.
func (r *Radio) Transmit(payload []byte) error {
	if len(payload) == 0 || len(payload) > 128 {
		return fmt.Errorf("sx1276: invalid payload length %d", len(payload))
	}
	r.SetOpMode(MODE_STANDBY)
	r.ClearIrq(0xFF)
	r.writeReg(REG_FIFOPTR, 0)
	r.writeReg(REG_FIFO, payload...)
	r.writeReg(REG_PAYLENGTH, byte(len(payload)))
	r.SetOpMode(MODE_TX)
	return nil
}

// LogPrintf is a function used by the driver to print logging info.
type LogPrintf func(format string, v ...interface{})

// logRegs is a debug helper function to print almost all the sx1276's registers.
func (r *Radio) logRegs() {
	var buf, regs [0x50]byte
	buf[0] = 1
	r.spi.Tx(buf[:], regs[:])
	regs[0] = 0 // no real data there
	r.log("     0  1  2  3  4  5  6  7  8  9  A  B  C  D  E  F")
	for i := 0; i < len(regs); i += 16 {
		line := fmt.Sprintf("%02x:", i)
		for j := 0; j < 16 && i+j < len(regs); j++ {
			line += fmt.Sprintf(" %02x", regs[i+j])
		}
		r.log(line)
	}
}

// writeReg writes one or multiple registers starting at addr, the sx1276 auto-increments (except
// for the FIFO register where that wouldn't be desirable).
func (r *Radio) writeReg(addr byte, data ...byte) {
	wBuf := make([]byte, len(data)+1)
	rBuf := make([]byte, len(data)+1)
	wBuf[0] = addr | 0x80
	copy(wBuf[1:], data)
	r.spi.Tx(wBuf, rBuf)
}

// readReg reads one register and returns its value.
func (r *Radio) readReg(addr byte) byte {
	var buf [2]byte
	r.spi.Tx([]byte{addr & 0x7f, 0}, buf[:])
	return buf[1]
}
