// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sx1276

const (
	REG_FIFO        = 0x00
	REG_OPMODE      = 0x01
	REG_FRFMSB      = 0x06
	REG_FRFMID      = 0x07
	REG_FRFLSB      = 0x08
	REG_PACONFIG    = 0x09
	REG_PARAMP      = 0x0A
	REG_OCP         = 0x0B
	REG_LNA         = 0x0C
	REG_FIFOPTR     = 0x0D
	REG_FIFOTXBASE  = 0x0E
	REG_FIFORXBASE  = 0x0F
	REG_FIFORXCURR  = 0x10
	REG_IRQMASK     = 0x11
	REG_IRQFLAGS    = 0x12
	REG_RXBYTES     = 0x13
	REG_MODEMSTAT   = 0x18
	REG_PKTSNR      = 0x19
	REG_PKTRSSI     = 0x1A
	REG_CURRSSI     = 0x1B
	REG_HOPCHAN     = 0x1C
	REG_MODEMCONF1  = 0x1D
	REG_MODEMCONF2  = 0x1E
	REG_SYMBTIMEOUT = 0x1F
	REG_PREAMBLE    = 0x21
	REG_PAYLENGTH   = 0x22
	REG_PAYMAX      = 0x23
	REG_HOPPERIOD   = 0x24
	REG_MODEMCONF3  = 0x26
	REG_DETECTOPT   = 0x31
	REG_INVERTIQ    = 0x33
	REG_DETECTTHR   = 0x37
	REG_SYNC        = 0x39
	REG_DIOMAPPING1 = 0x40
	REG_DIOMAPPING2 = 0x41
	REG_VERSION     = 0x42
	REG_PADAC       = 0x4D
)

// Operating modes, bits 0..2 of REG_OPMODE. The LoRa and low-frequency-range bits get OR'ed in
// by SetOpMode.
const (
	MODE_SLEEP = iota
	MODE_STANDBY
	MODE_FS_TX     // frequency synthesis TX
	MODE_TX        // TX
	MODE_FS_RX     // frequency synthesis RX
	MODE_RX_CONT   // RX continuous
	MODE_RX_SINGLE // RX single
	MODE_CAD       // channel activity detection
)

const (
	OPMODE_LORA = 0x80
	OPMODE_MASK = 0x07
)

const (
	// IRQ mask and flags registers
	IRQ_RXTIMEOUT = 1 << 7
	IRQ_RXDONE    = 1 << 6
	IRQ_CRCERR    = 1 << 5
	IRQ_VALIDHDR  = 1 << 4
	IRQ_TXDONE    = 1 << 3
	IRQ_CADDONE   = 1 << 2
	IRQ_FHSCHG    = 1 << 1
	IRQ_CADDETECT = 1 << 0
)

// DIO function mappings for REG_DIOMAPPING1, two bits per pin starting at the top.
const (
	DIO0_RXDONE  = 0x00
	DIO0_TXDONE  = 0x40
	DIO0_CADDONE = 0x80
	DIO0_NOP     = 0xC0

	DIO1_RXTIMEOUT = 0x00
	DIO1_FHSCHG    = 0x10
	DIO1_CADDETECT = 0x20
	DIO1_NOP       = 0x30

	DIO2_FHSCHG = 0x00
	DIO2_NOP    = 0x0C

	DIO3_CADDONE = 0x00
	DIO3_NOP     = 0x03
)

// ModemConfig1 fields: bandwidth, coding rate, header mode.
const (
	MC1_BW125    = 0x70
	MC1_BW250    = 0x80
	MC1_BW500    = 0x90
	MC1_CR4_5    = 0x02
	MC1_CR4_6    = 0x04
	MC1_CR4_7    = 0x06
	MC1_CR4_8    = 0x08
	MC1_IMPLICIT = 0x01
)

// ModemConfig2: spreading factor in the top nibble, RX CRC in bit 2.
const (
	MC2_SF_SHIFT = 4
	MC2_RXCRC    = 0x04
)

// ModemConfig3: low data rate optimize (mandatory for SF11/SF12 at BW125) and LNA AGC.
const (
	MC3_LOWDATARATE = 0x08
	MC3_AGCAUTO     = 0x04
)

// HopChannel register: bit 6 indicates the received header had CRC on payload enabled.
const HOP_CRCONPAYLOAD = 0x40

// ChipVersion is the value REG_VERSION reads back on an SX1276.
const ChipVersion = 0x12

// register values to initialize the chip, this array has pairs of <address, data>
var configRegs = []byte{
	REG_OPMODE, 0x80, // LoRa + sleep, takes two writes to switch modem
	REG_OPMODE, 0x80,
	REG_OCP, 0x32, // over-current protection @150mA
	REG_LNA, 0x23, // max LNA gain, boost on
	REG_FIFOPTR, 0x00, // FIFO ptr = 0
	REG_FIFOTXBASE, 0x00, // FIFO TX base = 0
	REG_FIFORXBASE, 0x00, // FIFO RX base = 0
	REG_FIFORXCURR, 0x00, // FIFO RX current = 0
	REG_IRQMASK, 0x12, // mask valid header and FHSS change interrupts
	REG_SYMBTIMEOUT, 0xFF, // max RX timeout
	0x20, 0x00, REG_PREAMBLE, 0x08, // preamble of 8
	REG_PAYMAX, 0x80, // max payload of 128 bytes
	REG_HOPPERIOD, 0x00, // no built-in freq hopping, the gateway hops itself
	REG_DETECTOPT, 0x03, // detection optimize for SF7-12
	REG_INVERTIQ, 0x27, // no I/Q invert
	REG_DETECTTHR, 0x0A, // detection threshold for SF7-12
	REG_DIOMAPPING1, 0xFF, // no interrupts yet
	REG_DIOMAPPING2, 0x00,
}
