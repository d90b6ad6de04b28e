package radio

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/core/port"
	"github.com/berfenger/everblu2mqtt/pkg/cc1101"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
	"go.uber.org/zap"
)

const (
	// about two seconds of 0x55 at 2.4 kbps
	wakeUpRepeat = 77
	wakeUpGap    = 130 * time.Millisecond

	// the meter preamble ends in 0x5550, the frame starts after 0xFFF0
	syncPreamble uint16 = 0x5550
	syncFrame    uint16 = 0xFFF0
)

var wakeUpPattern = bytes.Repeat([]byte{0x55}, 8)

// RadianRadio talks RADIAN over a CC1101: a wake up burst with the read request, an
// acknowledge frame and the data frame, both received as a 4x oversampled bitstream.
type RadianRadio struct {
	driver *cc1101.Driver
	logger *zap.Logger
}

func NewRadianRadio(driver *cc1101.Driver, logger *zap.Logger) *RadianRadio {
	return &RadianRadio{
		driver: driver,
		logger: logger,
	}
}

func (r *RadianRadio) Init(frequencyHz float64) error {
	if err := r.driver.Reset(); err != nil {
		return err
	}
	actual, err := r.driver.Configure(cc1101.Config{FrequencyHz: frequencyHz})
	if err != nil {
		return err
	}
	r.logger.Info("radio: cc1101 configured", zap.Float64("frequency_hz", actual))
	return r.driver.Sleep()
}

func (r *RadianRadio) Exchange(ctx context.Context, meter radian.MeterIdentity, frequencyHz float64, opts domain.ExchangeOptions) (*domain.RadioExchange, error) {
	if err := r.driver.Wake(); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.driver.Sleep(); err != nil {
			r.logger.Warn("radio: cannot put cc1101 to sleep", zap.Error(err))
		}
	}()

	actual, err := r.driver.TuneTo(frequencyHz)
	if err != nil {
		return nil, err
	}

	request := radian.BuildRequestFrame(meter)
	err = r.driver.Transmit(ctx, request, cc1101.TxOptions{
		WakeUp:       wakeUpPattern,
		WakeUpRepeat: wakeUpRepeat,
		Gap:          wakeUpGap,
	})
	if err != nil {
		return nil, err
	}

	// a missed acknowledge does not mean the data frame will not come
	if _, err := r.receiveFrame(ctx, radian.AckFrameSize, opts.AckTimeout); err != nil {
		r.logger.Debug("radio: no acknowledge frame", zap.Stringer("meter", meter), zap.Error(err))
	}
	raw, err := r.receiveFrame(ctx, radian.DataFrameSize, opts.DataTimeout)
	if err != nil {
		return nil, err
	}

	signal, err := r.driver.ReadSignalMetrics()
	if err != nil {
		return nil, err
	}

	frame, err := radian.DecodeSerial(raw)
	if err != nil && len(frame) < radian.MinResponseLength {
		return nil, fmt.Errorf("decode %d raw bytes: %w", len(raw), err)
	}
	r.logger.Debug("radio: frame received",
		zap.Int("raw", len(raw)), zap.Int("decoded", len(frame)),
		zap.Int("rssi_dbm", signal.RSSIDbm), zap.Uint8("lqi", signal.LQI), zap.Int8("freqest", signal.FreqEst))

	return &domain.RadioExchange{
		Frame:       frame,
		Signal:      signal,
		FrequencyHz: actual,
	}, nil
}

// receiveFrame waits for the meter preamble at the default rate, then switches to the
// oversampling rate and collects the raw bytes a frame of size decoded bytes takes.
func (r *RadianRadio) receiveFrame(ctx context.Context, size int, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err := r.driver.Receive(ctx, cc1101.RxOptions{
		Sync:         syncPreamble,
		PacketLength: 1,
		StayInRx:     true,
		MinBytes:     1,
	})
	if err != nil {
		return nil, err
	}
	return r.driver.Receive(ctx, cc1101.RxOptions{
		Sync:     syncFrame,
		MDMCFG4:  cc1101.MDMCFG4Bandwidth58k9600,
		MDMCFG3:  cc1101.MDMCFG3DataRate2400,
		Infinite: true,
		StayInRx: true,
		MinBytes: radian.RawResponseLength(size),
	})
}

// ensure interface compliance
var _ port.MeterRadio = (*RadianRadio)(nil)
