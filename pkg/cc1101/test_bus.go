package cc1101

import (
	"errors"
	"sync"
	"time"
)

// RxRequest describes an SRX strobe seen by the TestBus.
type RxRequest struct {
	// Index counts SRX strobes since the last transmission.
	Index       int
	Sync        uint16
	FrequencyHz float64
	LastTx      []byte
}

// TestBus is an in-memory CC1101: a register file, FIFOs and a state machine that is
// just good enough for the driver. Responder is asked for FIFO contents on every SRX.
type TestBus struct {
	mu sync.Mutex

	Version   byte
	RSSI      byte
	LQI       byte
	FreqEst   byte
	Responder func(RxRequest) []byte
	// FailTx makes every transfer fail.
	FailTx error
	// OverflowOnRx flags the RX FIFO as overflowed whenever a response is delivered.
	OverflowOnRx bool

	regs        [0x40]byte
	patable     []byte
	state       MarcState
	txWritten   bool
	txSession   []byte
	rxFifo      []byte
	rxOverflow  bool
	gdo0        bool
	rxIndex     int
	lastTx      []byte
	transmitted [][]byte
	strobes     []Strobe
	closed      bool
}

func NewTestBus() *TestBus {
	return &TestBus{
		Version: 0x14,
		RSSI:    0xE0,
		LQI:     0x80 | 40,
		state:   MarcIdle,
	}
}

func (b *TestBus) Tx(w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailTx != nil {
		return b.FailTx
	}
	if b.closed {
		return errors.New("bus closed")
	}
	if len(w) == 0 || len(r) < len(w) {
		return errors.New("bad transfer")
	}
	header := w[0]
	addr := Register(header & 0x3F)
	read := header&headerRead != 0
	burst := header&headerBurst != 0

	r[0] = b.statusByte()

	if len(w) == 1 && addr >= Register(SRES) && addr <= Register(SNOP) {
		b.strobe(Strobe(addr))
		return nil
	}

	switch {
	case !read && addr == FIFO:
		b.txSession = append(b.txSession, w[1:]...)
		b.txWritten = true
	case !read && addr == PATABLE:
		b.patable = append([]byte(nil), w[1:]...)
	case !read:
		for i, v := range w[1:] {
			if int(addr)+i < len(b.regs) {
				b.regs[int(addr)+i] = v
			}
			if !burst {
				break
			}
		}
	case addr == FIFO:
		for i := 1; i < len(w); i++ {
			if len(b.rxFifo) > 0 {
				r[i] = b.rxFifo[0]
				b.rxFifo = b.rxFifo[1:]
			}
		}
		if len(b.rxFifo) == 0 {
			b.gdo0 = false
		}
	case burst && addr.IsStatus():
		r[1] = b.statusRegister(addr)
	default:
		for i := 1; i < len(w); i++ {
			if int(addr)+i-1 < len(b.regs) {
				r[i] = b.regs[int(addr)+i-1]
			}
		}
	}
	return nil
}

func (b *TestBus) statusByte() byte {
	var st byte
	switch {
	case b.state.IsRx():
		st = 1
	case b.state.IsTx():
		st = 2
	case b.state == MarcTxUnderflow:
		st = 7
	}
	fifo := len(b.rxFifo)
	if fifo > 15 {
		fifo = 15
	}
	return st<<4 | byte(fifo)
}

func (b *TestBus) statusRegister(r Register) byte {
	switch r {
	case PARTNUM:
		return 0x00
	case VERSION:
		return b.Version
	case FREQEST:
		return b.FreqEst
	case LQI:
		return b.LQI
	case RSSI:
		return b.RSSI
	case MARCSTATE:
		if b.state.IsTx() {
			if b.txWritten {
				b.txWritten = false
			} else {
				b.state = MarcTxUnderflow
			}
		}
		return byte(b.state)
	case TXBYTES:
		return 0
	case RXBYTES:
		n := len(b.rxFifo)
		if n > int(fifoBytesMask) {
			n = int(fifoBytesMask)
		}
		v := byte(n)
		if b.rxOverflow {
			v |= fifoOverflow
		}
		return v
	}
	return 0
}

func (b *TestBus) strobe(s Strobe) {
	b.strobes = append(b.strobes, s)
	switch s {
	case SRES:
		b.regs = [0x40]byte{}
		b.state = MarcIdle
		b.rxFifo = nil
		b.gdo0 = false
	case SIDLE:
		b.state = MarcIdle
		b.gdo0 = false
	case STX:
		b.state = MarcTx
		b.txWritten = true
	case SFTX:
		if len(b.txSession) > 0 {
			b.lastTx = b.txSession
			b.transmitted = append(b.transmitted, b.txSession)
			b.rxIndex = 0
		}
		b.txSession = nil
		b.state = MarcIdle
	case SRX:
		b.state = MarcRx
		if b.Responder != nil {
			data := b.Responder(RxRequest{
				Index:       b.rxIndex,
				Sync:        uint16(b.regs[SYNC1])<<8 | uint16(b.regs[SYNC0]),
				FrequencyHz: b.frequencyHz(),
				LastTx:      b.lastTx,
			})
			b.rxIndex++
			if len(data) > 0 {
				b.rxFifo = append([]byte(nil), data...)
				b.rxOverflow = b.OverflowOnRx
				b.gdo0 = true
			}
		}
	case SFRX:
		b.rxFifo = nil
		b.rxOverflow = false
		b.gdo0 = false
	case SPWD:
		b.state = MarcSleep
	}
}

func (b *TestBus) frequencyHz() float64 {
	word := uint32(b.regs[FREQ2])<<16 | uint32(b.regs[FREQ1])<<8 | uint32(b.regs[FREQ0])
	return FrequencyFromWord(word, XtalFrequencyHz)
}

func (b *TestBus) GDO0() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gdo0
}

func (b *TestBus) WaitForGDO0(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if b.GDO0() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *TestBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Register returns the current value of a configuration register.
func (b *TestBus) Register(r Register) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[r]
}

func (b *TestBus) FrequencyHz() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frequencyHz()
}

func (b *TestBus) PowerTable() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.patable...)
}

// Transmitted returns every TX FIFO session closed by SFTX.
func (b *TestBus) Transmitted() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.transmitted...)
}

func (b *TestBus) Strobes() []Strobe {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Strobe(nil), b.strobes...)
}

func (b *TestBus) State() MarcState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
