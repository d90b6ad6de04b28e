package cc1101

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Bus is the hardware capability the driver needs: a full duplex SPI transfer with
// chip select handled by the implementation, and the GDO0 line.
type Bus interface {
	Tx(w, r []byte) error
	GDO0() bool
	// WaitForGDO0 blocks until GDO0 is asserted or the timeout elapses.
	WaitForGDO0(timeout time.Duration) bool
	Close() error
}

// ReopeningBus opens its underlying bus on first use and again after every failed open,
// so a chip wired or plugged in after start up is picked up by the next transfer. While
// no bus is open transfers fail with ErrNotResponding.
type ReopeningBus struct {
	mu      sync.Mutex
	open    func() (Bus, error)
	bus     Bus
	lastErr error
	logger  *zap.Logger
}

func NewReopeningBus(open func() (Bus, error), logger *zap.Logger) *ReopeningBus {
	return &ReopeningBus{open: open, logger: logger}
}

// Open tries to open the underlying bus now. Later transfers retry on failure.
func (b *ReopeningBus) Open() error {
	_, err := b.get()
	return err
}

func (b *ReopeningBus) get() (Bus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus != nil {
		return b.bus, nil
	}
	bus, err := b.open()
	if err != nil {
		if b.lastErr == nil || b.lastErr.Error() != err.Error() {
			b.logger.Warn("cc1101 bus unavailable", zap.Error(err))
		}
		b.lastErr = err
		return nil, newError(KindNotResponding, "open bus", err)
	}
	if b.lastErr != nil {
		b.logger.Info("cc1101 bus opened")
	}
	b.lastErr = nil
	b.bus = bus
	return bus, nil
}

func (b *ReopeningBus) Tx(w, r []byte) error {
	bus, err := b.get()
	if err != nil {
		return err
	}
	return bus.Tx(w, r)
}

func (b *ReopeningBus) GDO0() bool {
	bus, err := b.get()
	return err == nil && bus.GDO0()
}

func (b *ReopeningBus) WaitForGDO0(timeout time.Duration) bool {
	bus, err := b.get()
	return err == nil && bus.WaitForGDO0(timeout)
}

func (b *ReopeningBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	return err
}

type Instrument struct {
	RecordTime func(fnName string, d time.Duration)
}

func RecordTimer(name string, instrument []Instrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

func TraceLoggerInstrumentation(logger *zap.Logger) *Instrument {
	if logger == nil || !logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	return &Instrument{
		RecordTime: func(fnName string, d time.Duration) {
			logger.Debug("cc1101 spi", zap.String("op", fnName), zap.Int64("micros", d.Microseconds()))
		},
	}
}
