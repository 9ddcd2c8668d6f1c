package loragw

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

//===== SPI and GPIO shims for periph.io, the alternative to embd

// NewPeriphSPI initializes the periph host drivers and connects to the first SPI port at the
// given speed.
func NewPeriphSPI(speed int64) (SPI, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph: %s", err)
	}
	port, err := spireg.Open("")
	if err != nil {
		return nil, fmt.Errorf("periph: cannot open SPI port: %s", err)
	}
	conn, err := port.Connect(physic.Frequency(speed)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("periph: cannot connect: %s", err)
	}
	return &periphSPI{port: port, conn: conn}, nil
}

type periphSPI struct {
	port spi.PortCloser
	conn spi.Conn
}

func (s *periphSPI) Tx(w, r []byte) error { return s.conn.Tx(w, r) }

func (s *periphSPI) Speed(hz int64) error {
	// The speed is fixed when the port is connected.
	return nil
}

func (s *periphSPI) Configure(mode int, bits int) error {
	if mode != SPIMode0 || bits != 8 {
		return fmt.Errorf("periph: unsupported SPI mode %d/%d bits", mode, bits)
	}
	return nil
}

func (s *periphSPI) Close() error { return s.port.Close() }

// NewPeriphGPIO opens a pin by name, returns nil if the pin cannot be found.
func NewPeriphGPIO(name string) GPIO {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil
	}
	return &periphGPIO{p: p}
}

type periphGPIO struct {
	p gpio.PinIO
}

func (g *periphGPIO) In(edge int) error {
	e := []gpio.Edge{gpio.NoEdge, gpio.RisingEdge, gpio.FallingEdge, gpio.BothEdges}[edge]
	return g.p.In(gpio.Float, e)
}

func (g *periphGPIO) Read() int {
	if g.p.Read() == gpio.High {
		return GpioHigh
	}
	return GpioLow
}

func (g *periphGPIO) WaitForEdge(timeout time.Duration) bool {
	return g.p.WaitForEdge(timeout)
}

func (g *periphGPIO) Out(level int) {
	g.p.Out(level == GpioHigh)
}

func (g *periphGPIO) Number() int { return g.p.Number() }
