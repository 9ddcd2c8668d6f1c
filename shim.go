package loragw

// stuff in here is a shim to be able to switch between embd and periph...

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kidoman/embd"
)

// SPI is the bus access used by the radio driver. A Tx call performs one full-duplex
// transaction with the chip select asserted for its duration; transactions never interleave.
type SPI interface {
	Tx(w, r []byte) error
	Speed(hz int64) error
	Configure(mode int, bits int) error
	Close() error
}

const (
	SPIMode0 = 0x0 // CPOL=0, CPHA=0
	SPIMode1 = 0x1 // CPOL=0, CPHA=1
	SPIMode2 = 0x2 // CPOL=1, CPHA=0
	SPIMode3 = 0x3 // CPOL=1, CPHA=1
)

// GPIO is a single digital pin, used for the radio's DIO event lines and its reset line.
type GPIO interface {
	In(edge int) error
	Read() int
	WaitForEdge(timeout time.Duration) bool
	Out(level int)
	Number() int
}

const (
	GpioLow        = 0
	GpioHigh       = 1
	GpioNoEdge     = 0
	GpioRisingEdge = 1
)

//===== SPI shim for embd

// NewSPI returns the first embd SPI bus.
func NewSPI(speed int64) SPI {
	return &spiDev{embd.NewSPIBus(embd.SPIMode0, 0, int(speed/1000), 8, 0)}
}

type spiDev struct {
	embd.SPIBus
}

func (s *spiDev) Tx(w, r []byte) error {
	copy(r, w)
	return s.TransferAndReceiveData(r)
}

func (s *spiDev) Speed(hz int64) error {
	// embd fixes the speed when the bus is opened.
	return nil
}

func (s *spiDev) Configure(mode int, bits int) error {
	if mode != SPIMode0 {
		return errors.New("SPI: sorry, only SPI mode 0 supported")
	}
	if bits != 8 {
		return errors.New("SPI: sorry, only 8-bit mode supported")
	}
	return nil
}

//===== GPIO shim for embd

// NewGPIO opens a pin by name, returns nil if the pin cannot be opened.
func NewGPIO(name string) GPIO {
	g, err := embd.NewDigitalPin(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "NewDigitalPin: %s\n", err)
		return nil
	}
	return &gpioPin{p: g, dir: embd.In, edge: make(chan struct{}, 1)}
}

type gpioPin struct {
	p    embd.DigitalPin
	dir  embd.Direction
	edge chan struct{}
}

func (g *gpioPin) In(edge int) error {
	if err := g.p.SetDirection(embd.In); err != nil {
		return err
	}
	g.dir = embd.In
	if edge != GpioNoEdge {
		e := []embd.Edge{embd.EdgeNone, embd.EdgeRising, embd.EdgeFalling, embd.EdgeBoth}[edge]
		return g.p.Watch(e, g.edgeCB)
	}
	return nil
}

func (g *gpioPin) Read() int {
	v, _ := g.p.Read()
	return v
}

func (g *gpioPin) WaitForEdge(timeout time.Duration) bool {
	to := time.After(timeout)
	select {
	case <-g.edge:
		return true
	case <-to:
		return false
	}
}

func (g *gpioPin) Out(level int) {
	if g.dir != embd.Out {
		g.p.SetDirection(embd.Out)
		g.dir = embd.Out
	}
	g.p.Write(level)
}

func (g *gpioPin) Number() int {
	return g.p.N()
}

func (g *gpioPin) edgeCB(embd.DigitalPin) {
	select {
	case g.edge <- struct{}{}:
	default:
	}
}
