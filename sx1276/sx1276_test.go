// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package sx1276

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/things4u/loragw/sim"
)

func newTestRadio(t *testing.T) (*Radio, *sim.Chip) {
	chip := sim.New()
	r, err := New(chip, RadioOpts{Reset: chip.RST})
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	return r, chip
}

// The EU868 frequencies a gateway cycles through, each must round-trip through the frf
// registers within one 61Hz synthesizer step.
var testFreqs = []uint32{
	868100000, 868300000, 868500000, 867100000, 867300000,
	867500000, 867700000, 867900000, 868800000, 869525000,
}

func Test_FrequencyRoundTrip(t *testing.T) {
	r, _ := newTestRadio(t)
	for _, f := range testFreqs {
		r.SetFrequency(f)
		got := r.Frequency()
		diff := int64(got) - int64(f)
		if diff < 0 {
			diff = -diff
		}
		if diff > 61 {
			t.Errorf("Frequency %d read back as %d, off by %dHz", f, got, diff)
		}
	}
}

func Test_SpreadingFactor(t *testing.T) {
	r, chip := newTestRadio(t)
	for sf := byte(7); sf <= 12; sf++ {
		if err := r.SetSpreadingFactor(sf); err != nil {
			t.Fatalf("Unexpected error for SF%d: %v", sf, err)
		}
		if got := r.SpreadingFactor(); got != sf {
			t.Errorf("SF mismatch, got %d expected %d", got, sf)
		}
		ldro := chip.Reg(REG_MODEMCONF3)&MC3_LOWDATARATE != 0
		if want := sf >= 11; ldro != want {
			t.Errorf("SF%d low-data-rate optimization %v expected %v", sf, ldro, want)
		}
	}
	for _, sf := range []byte{0, 6, 13} {
		if err := r.SetSpreadingFactor(sf); err == nil {
			t.Errorf("SF%d accepted, expected error", sf)
		}
	}
}

func Test_Init(t *testing.T) {
	r, chip := newTestRadio(t)
	if err := r.Init(868100000, 7, 0x34); err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if got := chip.Reg(REG_SYNC); got != 0x34 {
		t.Errorf("Sync word got %#x expected 0x34", got)
	}
	if got := r.OpMode(); got != MODE_STANDBY {
		t.Errorf("OpMode got %d expected standby", got)
	}
	if got := r.SpreadingFactor(); got != 7 {
		t.Errorf("SF got %d expected 7", got)
	}
}

func Test_InitDebugDump(t *testing.T) {
	chip := sim.New()
	var lines []string
	logger := func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	}
	r, err := New(chip, RadioOpts{Reset: chip.RST, Logger: logger})
	if err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if err := r.Init(868100000, 7, 0x34); err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	dumped := false
	for _, l := range lines {
		if strings.HasPrefix(l, "40:") {
			dumped = true
		}
	}
	if !dumped {
		t.Fatalf("Init with a debug logger produced no register dump, got %q", lines)
	}
}

func Test_SetCrc(t *testing.T) {
	r, chip := newTestRadio(t)
	if err := r.Init(868100000, 7, 0x34); err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	if got := chip.Reg(REG_MODEMCONF2); got&MC2_RXCRC == 0 {
		t.Fatalf("MODEMCONF2 got %#x expected CRC on after init", got)
	}
	r.SetCrc(false)
	if got := chip.Reg(REG_MODEMCONF2); got&MC2_RXCRC != 0 {
		t.Errorf("MODEMCONF2 got %#x expected CRC bit cleared", got)
	}
	r.SetCrc(true)
	if got := chip.Reg(REG_MODEMCONF2); got&MC2_RXCRC == 0 {
		t.Errorf("MODEMCONF2 got %#x expected CRC bit set again", got)
	}
}

func Test_InitBadVersion(t *testing.T) {
	r, chip := newTestRadio(t)
	chip.SetVersion(0x00)
	if err := r.Init(868100000, 7, 0x34); err == nil {
		t.Fatalf("Init succeeded with a dead chip, expected error")
	}
}

var receptions = map[string]struct {
	payload []byte
	snr     float64
	rssiRaw byte
	crcOK   bool
	rssi    int
}{
	"strong": {[]byte{0x40, 1, 2, 3, 4, 0x80, 7, 8}, 8.25, 100, true, -57},
	// Negative SNR packets get the SNR added to the RSSI reading.
	"weak":    {[]byte{0x40, 9, 9, 9, 9}, -6, 37, true, -126},
	"crc-bad": {[]byte{1, 2, 3}, 2, 60, false, -97},
}

func Test_ReadPacket(t *testing.T) {
	for n, tc := range receptions {
		r, chip := newTestRadio(t)
		if err := r.Init(868100000, 7, 0x34); err != nil {
			t.Fatalf("Unexpected error %v", err)
		}
		chip.InjectRx(tc.payload, tc.snr, tc.rssiRaw, tc.crcOK)
		irq := r.IrqFlags()
		if irq&IRQ_RXDONE == 0 {
			t.Fatalf("Reception %s: rx-done flag not set", n)
		}
		pkt, err := r.ReadPacket(irq)
		if err != nil {
			t.Fatalf("Reception %s: unexpected error %v", n, err)
		}
		if !bytes.Equal(pkt.Payload, tc.payload) {
			t.Errorf("Reception %s payload got %+v expected %+v", n, pkt.Payload, tc.payload)
		}
		if pkt.Snr != tc.snr {
			t.Errorf("Reception %s SNR got %v expected %v", n, pkt.Snr, tc.snr)
		}
		if pkt.Rssi != tc.rssi {
			t.Errorf("Reception %s RSSI got %d expected %d", n, pkt.Rssi, tc.rssi)
		}
		if pkt.CrcOK != tc.crcOK {
			t.Errorf("Reception %s CRC got %v expected %v", n, pkt.CrcOK, tc.crcOK)
		}
	}
}

func Test_ReadPacketBogusLength(t *testing.T) {
	r, chip := newTestRadio(t)
	chip.InjectRx(nil, 0, 60, true)
	if _, err := r.ReadPacket(IRQ_RXDONE); err == nil {
		t.Errorf("Zero-length packet accepted, expected error")
	}
}

func Test_Transmit(t *testing.T) {
	r, chip := newTestRadio(t)
	if err := r.Init(868100000, 7, 0x34); err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	payload := []byte{0x20, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if err := r.Transmit(payload); err != nil {
		t.Fatalf("Unexpected error %v", err)
	}
	sent := chip.TxLog()
	if len(sent) != 1 || !bytes.Equal(sent[0], payload) {
		t.Fatalf("Transmit log got %+v expected %+v", sent, payload)
	}
	if r.IrqFlags()&IRQ_TXDONE == 0 {
		t.Errorf("tx-done flag not set after transmission")
	}
}

func Test_TransmitBounds(t *testing.T) {
	r, _ := newTestRadio(t)
	if err := r.Transmit(nil); err == nil {
		t.Errorf("Empty payload accepted, expected error")
	}
	if err := r.Transmit(make([]byte, 129)); err == nil {
		t.Errorf("129-byte payload accepted, expected error")
	}
}
