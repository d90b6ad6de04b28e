package cc1101

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	fifoSize        = 64
	txLoopLimit     = 300
	txPollInterval  = 10 * time.Millisecond
	rxPollInterval  = 5 * time.Millisecond
	lowFifoFreeRoom = 10
	rxEnterPolls    = 100

	MinFrequencyHz = 300e6
	MaxFrequencyHz = 928e6
)

var ErrInvalidFrequency = errors.New("cc1101: frequency out of range")

var errRxOverflow = errors.New("rx fifo overflow")

type SignalMetrics struct {
	RSSIDbm     int
	RSSIPercent int
	LQI         uint8
	LQIPercent  int
	FreqEst     int8
}

// Config is applied by Configure. A nil Registers uses DefaultRegisters.
type Config struct {
	Registers   RegisterSet
	FrequencyHz float64
	PowerTable  []byte
}

type TxOptions struct {
	// WakeUp is written WakeUpRepeat times in infinite packet mode before the payload,
	// with no preamble or sync word, then the driver waits Gap before queueing data.
	WakeUp       []byte
	WakeUpRepeat int
	Gap          time.Duration
}

type RxOptions struct {
	Sync         uint16
	MDMCFG4      byte
	MDMCFG3      byte
	PacketLength byte
	Infinite     bool
	// StayInRx keeps the radio in RX after a packet (MCSM1 RXOFF_MODE).
	StayInRx bool
	// MinBytes is how many FIFO bytes to collect before returning.
	MinBytes    int
	Timeout     time.Duration
	HardwareCRC bool
}

// Driver programs a CC1101 through a Bus. It is not safe for concurrent use; callers
// serialize radio sessions.
type Driver struct {
	bus         Bus
	registers   RegisterSet
	powerTable  []byte
	xtalHz      float64
	frequencyHz float64
	instrument  []Instrument
	delay       func(time.Duration)
	logger      *zap.Logger
}

func NewDriver(bus Bus, logger *zap.Logger, instrumentation *Instrument) *Driver {
	var inst []Instrument
	if logInst := TraceLoggerInstrumentation(logger); logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return &Driver{
		bus:        bus,
		registers:  DefaultRegisters(),
		powerTable: PowerTable,
		xtalHz:     XtalFrequencyHz,
		instrument: inst,
		delay:      time.Sleep,
		logger:     logger,
	}
}

// SetDelay replaces the function used for the fixed protocol waits.
func (d *Driver) SetDelay(fn func(time.Duration)) {
	d.delay = fn
}

func (d *Driver) FrequencyHz() float64 {
	return d.frequencyHz
}

// Reset strobes SRES and checks that the chip answers with a plausible VERSION.
func (d *Driver) Reset() error {
	if err := d.strobe(SRES); err != nil {
		return err
	}
	d.delay(time.Millisecond)
	partnum, err := d.readReg(PARTNUM)
	if err != nil {
		return err
	}
	version, err := d.readReg(VERSION)
	if err != nil {
		return err
	}
	if version == 0x00 || version == 0xFF {
		return newError(KindNotResponding, "reset", fmt.Errorf("partnum 0x%02X version 0x%02X", partnum, version))
	}
	d.logger.Debug("cc1101 found", zap.Uint8("partnum", partnum), zap.Uint8("version", version))
	if err := d.strobe(SIDLE); err != nil {
		return err
	}
	if err := d.strobe(SFRX); err != nil {
		return err
	}
	return d.strobe(SFTX)
}

// Configure writes the modem setup, the PA table and the carrier, then calibrates the
// synthesizer. It returns the programmed frequency.
func (d *Driver) Configure(cfg Config) (float64, error) {
	if cfg.Registers != nil {
		d.registers = cfg.Registers
	}
	if cfg.PowerTable != nil {
		d.powerTable = cfg.PowerTable
	}
	for _, rv := range d.registers {
		if err := d.writeReg(rv.Register, rv.Value); err != nil {
			return 0, err
		}
	}
	if err := d.writeBurst(PATABLE, d.powerTable); err != nil {
		return 0, err
	}
	actual, err := d.TuneTo(cfg.FrequencyHz)
	if err != nil {
		return 0, err
	}
	if err := d.strobe(SIDLE); err != nil {
		return 0, err
	}
	if err := d.strobe(SCAL); err != nil {
		return 0, err
	}
	d.delay(5 * time.Millisecond)
	return actual, nil
}

// TuneTo programs FREQ2..0 with the synthesizer word nearest to hz and returns the
// frequency that word actually produces.
func (d *Driver) TuneTo(hz float64) (float64, error) {
	if hz < MinFrequencyHz || hz > MaxFrequencyHz {
		return 0, fmt.Errorf("%w: %.0f Hz", ErrInvalidFrequency, hz)
	}
	word := FrequencyWord(hz, d.xtalHz)
	if err := d.writeReg(FREQ2, byte(word>>16)); err != nil {
		return 0, err
	}
	if err := d.writeReg(FREQ1, byte(word>>8)); err != nil {
		return 0, err
	}
	if err := d.writeReg(FREQ0, byte(word)); err != nil {
		return 0, err
	}
	d.frequencyHz = FrequencyFromWord(word, d.xtalHz)
	return d.frequencyHz, nil
}

func (d *Driver) Transmit(ctx context.Context, data []byte, opts TxOptions) error {
	if len(opts.WakeUp) > 0 && opts.WakeUpRepeat > 0 {
		return d.transmitWithWakeUp(ctx, data, opts)
	}
	if len(data) > fifoSize {
		return newError(KindSPI, "transmit", fmt.Errorf("%d bytes do not fit the tx fifo", len(data)))
	}
	if err := d.writeReg(PKTLEN, byte(len(data))); err != nil {
		return err
	}
	if err := d.writeBurst(FIFO, data); err != nil {
		return err
	}
	if err := d.strobe(STX); err != nil {
		return err
	}
	d.delay(txPollInterval)
	for i := 0; i < txLoopLimit; i++ {
		state, err := d.MarcState()
		if err != nil {
			return err
		}
		if !transmitting(state) {
			break
		}
		if err := ctx.Err(); err != nil {
			break
		}
		d.delay(txPollInterval)
	}
	if err := d.strobe(SFTX); err != nil {
		return err
	}
	return d.restore(PKTLEN)
}

func (d *Driver) transmitWithWakeUp(ctx context.Context, data []byte, opts TxOptions) error {
	if err := d.writeReg(MDMCFG2, MDMCFG2NoPreambleSync); err != nil {
		return err
	}
	if err := d.writeReg(PKTCTRL0, PKTCTRL0InfiniteLength); err != nil {
		return err
	}
	if err := d.writeBurst(FIFO, opts.WakeUp); err != nil {
		return err
	}
	remaining := opts.WakeUpRepeat - 1
	if err := d.strobe(STX); err != nil {
		return err
	}
	d.delay(txPollInterval)

	payloadQueued := false
	state, err := d.MarcState()
	if err != nil {
		return err
	}
	for i := 0; transmitting(state) && i < txLoopLimit; i++ {
		if ctx.Err() != nil {
			break
		}
		if remaining > 0 {
			queued, err := d.readReg(TXBYTES)
			if err != nil {
				return err
			}
			if fifoSize-int(queued&fifoBytesMask) <= lowFifoFreeRoom {
				d.delay(2 * txPollInterval)
			}
			if err := d.writeBurst(FIFO, opts.WakeUp); err != nil {
				return err
			}
			remaining--
		} else if !payloadQueued {
			d.delay(opts.Gap)
			if err := d.writeBurst(FIFO, data); err != nil {
				return err
			}
			payloadQueued = true
		}
		d.delay(txPollInterval)
		if state, err = d.MarcState(); err != nil {
			return err
		}
	}
	if !payloadQueued {
		d.logger.Warn("cc1101 transmitter left tx before the payload was queued", zap.Stringer("state", state))
	}
	if err := d.strobe(SFTX); err != nil {
		return err
	}
	if err := d.restore(MDMCFG2, PKTCTRL0); err != nil {
		return err
	}
	if !payloadQueued {
		return newError(KindTimeout, "transmit", errors.New("payload not sent"))
	}
	return nil
}

// Receive enters RX with the given sync word and modem rate, suspends until GDO0
// reports a sync match, then drains the FIFO until MinBytes were collected. On return
// the radio is idle with the default registers restored. A timeout returns the bytes
// collected so far together with ErrTimeout.
func (d *Driver) Receive(ctx context.Context, opts RxOptions) ([]byte, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	data, err := d.receive(ctx, opts)

	if stopErr := d.stopReceive(); stopErr != nil && err == nil {
		err = stopErr
	}
	return data, err
}

func (d *Driver) receive(ctx context.Context, opts RxOptions) ([]byte, error) {
	pktctrl0 := PKTCTRL0FixedLength
	if opts.Infinite {
		pktctrl0 = PKTCTRL0InfiniteLength
	}
	if opts.HardwareCRC {
		pktctrl0 |= 0x04
	}
	if opts.MDMCFG4 == 0 {
		opts.MDMCFG4, _ = d.registers.Get(MDMCFG4)
	}
	if opts.MDMCFG3 == 0 {
		opts.MDMCFG3, _ = d.registers.Get(MDMCFG3)
	}
	mcsm1 := MCSM1IdleOnExit
	if opts.StayInRx {
		mcsm1 = MCSM1RxOnExit
	}
	if err := d.strobe(SFRX); err != nil {
		return nil, err
	}
	writes := RegisterSet{
		{MCSM1, mcsm1},
		{MDMCFG2, MDMCFG2FSK16of16Sync},
		{SYNC1, byte(opts.Sync >> 8)},
		{SYNC0, byte(opts.Sync)},
		{MDMCFG4, opts.MDMCFG4},
		{MDMCFG3, opts.MDMCFG3},
		{PKTCTRL0, pktctrl0},
	}
	if opts.PacketLength > 0 {
		writes = append(writes, RegisterValue{PKTLEN, opts.PacketLength})
	}
	for _, rv := range writes {
		if err := d.writeReg(rv.Register, rv.Value); err != nil {
			return nil, err
		}
	}
	if err := d.enterRx(ctx); err != nil {
		return nil, err
	}

	if !d.waitForSync(ctx) {
		return nil, newError(KindTimeout, "receive", errors.New("no sync word"))
	}

	minBytes := opts.MinBytes
	if minBytes <= 0 {
		minBytes = 1
	}
	var buf []byte
	for len(buf) < minBytes {
		select {
		case <-ctx.Done():
			return buf, newError(KindTimeout, "receive", fmt.Errorf("%d of %d bytes", len(buf), minBytes))
		default:
		}
		d.delay(rxPollInterval)
		rxbytes, err := d.readReg(RXBYTES)
		if err != nil {
			return buf, err
		}
		if rxbytes&fifoOverflow != 0 {
			return buf, newError(KindTimeout, "receive", errRxOverflow)
		}
		n := int(rxbytes & fifoBytesMask)
		if n == 0 {
			continue
		}
		chunk, err := d.readBurst(FIFO, n)
		if err != nil {
			return buf, err
		}
		buf = append(buf, chunk...)
	}

	if opts.HardwareCRC {
		lqi, err := d.readReg(LQI)
		if err != nil {
			return buf, err
		}
		if lqi&0x80 == 0 {
			return buf, newError(KindCrcMismatch, "receive", nil)
		}
	}
	return buf, nil
}

func (d *Driver) enterRx(ctx context.Context) error {
	if err := d.strobe(SIDLE); err != nil {
		return err
	}
	if err := d.strobe(SRX); err != nil {
		return err
	}
	for i := 0; i < rxEnterPolls; i++ {
		state, err := d.MarcState()
		if err != nil {
			return err
		}
		if state.IsRx() {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		d.delay(time.Millisecond)
	}
	return newError(KindTimeout, "receive", errors.New("radio did not enter rx"))
}

func (d *Driver) waitForSync(ctx context.Context) bool {
	if d.bus.GDO0() {
		return true
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		for !d.bus.WaitForGDO0(time.Second) {
			if ctx.Err() != nil {
				return false
			}
		}
		return true
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	return d.bus.WaitForGDO0(remaining)
}

func (d *Driver) stopReceive() error {
	if err := d.strobe(SFRX); err != nil {
		return err
	}
	if err := d.strobe(SIDLE); err != nil {
		return err
	}
	return d.restore(MCSM1, MDMCFG2, MDMCFG4, MDMCFG3, PKTCTRL0, PKTLEN, SYNC1, SYNC0)
}

func (d *Driver) ReadSignalMetrics() (SignalMetrics, error) {
	rssi, err := d.readReg(RSSI)
	if err != nil {
		return SignalMetrics{}, err
	}
	lqi, err := d.readReg(LQI)
	if err != nil {
		return SignalMetrics{}, err
	}
	est, err := d.readReg(FREQEST)
	if err != nil {
		return SignalMetrics{}, err
	}
	dbm := RSSIToDbm(rssi)
	return SignalMetrics{
		RSSIDbm:     dbm,
		RSSIPercent: RSSIPercent(dbm),
		LQI:         lqi,
		LQIPercent:  LQIPercent(lqi),
		FreqEst:     int8(est),
	}, nil
}

func (d *Driver) Sleep() error {
	if err := d.strobe(SIDLE); err != nil {
		return err
	}
	return d.strobe(SPWD)
}

// Wake brings the chip back to IDLE. TEST and PATABLE registers do not survive SLEEP,
// so they are written again.
func (d *Driver) Wake() error {
	if err := d.strobe(SIDLE); err != nil {
		return err
	}
	if err := d.restore(TEST2, TEST1, TEST0); err != nil {
		return err
	}
	return d.writeBurst(PATABLE, d.powerTable)
}

func (d *Driver) MarcState() (MarcState, error) {
	v, err := d.readReg(MARCSTATE)
	if err != nil {
		return 0, err
	}
	return MarcState(v & marcStateBitsMask), nil
}

func (d *Driver) Version() (uint8, error) {
	return d.readReg(VERSION)
}

func (d *Driver) Close() error {
	return d.bus.Close()
}

func (d *Driver) restore(regs ...Register) error {
	for _, r := range regs {
		v, ok := d.registers.Get(r)
		if !ok {
			continue
		}
		if err := d.writeReg(r, v); err != nil {
			return err
		}
	}
	return nil
}

func transmitting(s MarcState) bool {
	switch s {
	case MarcTx, MarcTxEnd, MarcFSTxOn, MarcCalibrate, MarcSettling, MarcFSWakeup:
		return true
	}
	return false
}

// SPI primitives

func (d *Driver) transfer(op string, w []byte) ([]byte, error) {
	defer RecordTimer(op, d.instrument)()
	r := make([]byte, len(w))
	if err := d.bus.Tx(w, r); err != nil {
		return nil, newError(KindSPI, op, err)
	}
	return r, nil
}

func (d *Driver) strobe(s Strobe) error {
	_, err := d.transfer("strobe", []byte{byte(s)})
	return err
}

func (d *Driver) writeReg(r Register, value byte) error {
	_, err := d.transfer("write", []byte{byte(r) | headerWrite, value})
	return err
}

func (d *Driver) readReg(r Register) (byte, error) {
	header := byte(r) | headerRead
	if r.IsStatus() {
		header = byte(r) | headerReadBurst
	}
	resp, err := d.transfer("read", []byte{header, 0})
	if err != nil {
		return 0, err
	}
	return resp[1], nil
}

func (d *Driver) writeBurst(r Register, data []byte) error {
	w := make([]byte, len(data)+1)
	w[0] = byte(r) | headerBurst
	copy(w[1:], data)
	_, err := d.transfer("writeBurst", w)
	return err
}

func (d *Driver) readBurst(r Register, n int) ([]byte, error) {
	w := make([]byte, n+1)
	w[0] = byte(r) | headerReadBurst
	resp, err := d.transfer("readBurst", w)
	if err != nil {
		return nil, err
	}
	return resp[1:], nil
}
