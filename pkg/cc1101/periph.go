package cc1101

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// PeriphBus talks to the chip through the Linux spidev and GPIO drivers.
type PeriphBus struct {
	port spi.PortCloser
	conn spi.Conn
	gdo0 gpio.PinIO
}

// OpenPeriphBus opens the SPI port (empty name selects the first one) and the GDO0 pin
// by its GPIO name, e.g. "GPIO25".
func OpenPeriphBus(spiPort string, speedHz int64, gdo0Pin string) (*PeriphBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	port, err := spireg.Open(spiPort)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", spiPort, err)
	}
	conn, err := port.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect spi port %q: %w", spiPort, err)
	}
	pin := gpioreg.ByName(gdo0Pin)
	if pin == nil {
		port.Close()
		return nil, fmt.Errorf("gdo0 pin %q not found", gdo0Pin)
	}
	if err := pin.In(gpio.PullUp, gpio.RisingEdge); err != nil {
		port.Close()
		return nil, fmt.Errorf("configure gdo0 pin %q: %w", gdo0Pin, err)
	}
	return &PeriphBus{
		port: port,
		conn: conn,
		gdo0: pin,
	}, nil
}

func (b *PeriphBus) Tx(w, r []byte) error {
	return b.conn.Tx(w, r)
}

func (b *PeriphBus) GDO0() bool {
	return b.gdo0.Read() == gpio.High
}

func (b *PeriphBus) WaitForGDO0(timeout time.Duration) bool {
	if b.GDO0() {
		return true
	}
	if b.gdo0.WaitForEdge(timeout) {
		return true
	}
	// the edge may have fired between the level check and arming the wait
	return b.GDO0()
}

func (b *PeriphBus) Close() error {
	b.gdo0.Halt()
	return b.port.Close()
}
