package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/core/port"
	"github.com/berfenger/everblu2mqtt/pkg/cc1101"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
	"go.uber.org/zap"
)

var ErrNoViableFrequency = errors.New("no viable frequency found")

const (
	// MaxFrequencyOffsetHz bounds the tuned frequency around the center. It is the half
	// width of the wide scan.
	MaxFrequencyOffsetHz = 100e3

	trackingMinErrorHz = 2e3
	trackingGain       = 0.5
)

type ScanParams struct {
	WindowHz float64
	StepHz   float64
}

var (
	NarrowScan     = ScanParams{WindowHz: 60e3, StepHz: 5e3}
	WideCoarseScan = ScanParams{WindowHz: 2 * MaxFrequencyOffsetHz, StepHz: 10e3}
	WideFineScan   = ScanParams{WindowHz: 30e3, StepHz: 3e3}
)

type CalibrationConfig struct {
	// AdaptiveThreshold is the quality margin, in percent points, a candidate needs
	// to replace the current best one.
	AdaptiveThreshold int
	// TrackingReads is how many successful reads are averaged before FREQEST
	// corrections are applied. Zero disables tracking.
	TrackingReads int
	// Exchange holds the timeouts of one probe.
	Exchange domain.ExchangeOptions
	// Narrow overrides NarrowScan when set.
	Narrow ScanParams
}

// Calibrator owns the tuned frequency. It searches a window around the center for the
// frequency the meter answers best on and follows slow drift from FREQEST.
type Calibrator struct {
	mu     sync.RWMutex
	radio  port.MeterRadio
	store  port.FrequencyStore
	config CalibrationConfig
	freq   domain.RadioConfig

	trackErrorHz float64
	trackCount   int

	now    func() time.Time
	logger *zap.Logger
}

type candidate struct {
	frequencyHz float64
	signal      cc1101.SignalMetrics
	quality     float64
}

func NewCalibrator(radio port.MeterRadio, store port.FrequencyStore, radioConfig domain.RadioConfig, config CalibrationConfig, logger *zap.Logger) *Calibrator {
	radioConfig.TunedFrequencyHz = radioConfig.CenterFrequencyHz
	radioConfig.FrequencyOffsetHz = 0
	return &Calibrator{
		radio:  radio,
		store:  store,
		config: config,
		freq:   radioConfig,
		now:    time.Now,
		logger: logger,
	}
}

// Load applies a stored offset. Offsets stored for another center frequency or out of
// range are ignored. It returns whether an offset was applied.
func (c *Calibrator) Load() (bool, error) {
	if c.store == nil {
		return false, nil
	}
	state, err := c.store.Load()
	if err != nil || state == nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if state.CenterFrequencyHz != c.freq.CenterFrequencyHz || math.Abs(state.OffsetHz) > MaxFrequencyOffsetHz {
		c.logger.Warn("calibration: ignoring stored frequency offset",
			zap.Float64("center", state.CenterFrequencyHz), zap.Float64("offset", state.OffsetHz))
		return false, nil
	}
	c.setTunedLocked(c.freq.CenterFrequencyHz + state.OffsetHz)
	c.logger.Info("calibration: loaded frequency offset", zap.Float64("offset_hz", c.freq.FrequencyOffsetHz))
	return c.freq.FrequencyOffsetHz != 0, nil
}

func (c *Calibrator) Radio() domain.RadioConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.freq
}

func (c *Calibrator) TunedFrequencyHz() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.freq.TunedFrequencyHz
}

// Scan probes the window around the center frequency.
func (c *Calibrator) Scan(ctx context.Context, meter radian.MeterIdentity, params ScanParams) (*domain.CalibrationResult, error) {
	center := c.Radio().CenterFrequencyHz
	best, probed, successes := c.scan(ctx, meter, center, params)
	return c.finish(best, probed, successes)
}

// NarrowScan probes the configured narrow window around the center frequency.
func (c *Calibrator) NarrowScan(ctx context.Context, meter radian.MeterIdentity) (*domain.CalibrationResult, error) {
	params := c.config.Narrow
	if params.WindowHz <= 0 || params.StepHz <= 0 {
		params = NarrowScan
	}
	return c.Scan(ctx, meter, params)
}

// WideScan is a coarse scan over the whole calibration range followed by a fine scan
// around the coarse winner.
func (c *Calibrator) WideScan(ctx context.Context, meter radian.MeterIdentity) (*domain.CalibrationResult, error) {
	center := c.Radio().CenterFrequencyHz
	coarse, probed, successes := c.scan(ctx, meter, center, WideCoarseScan)
	if coarse == nil {
		return c.finish(nil, probed, successes)
	}
	fine, fineProbed, fineSuccesses := c.scan(ctx, meter, coarse.frequencyHz, WideFineScan)
	if fine == nil || !c.better(fine, coarse, coarse.frequencyHz) {
		fine = coarse
	}
	return c.finish(fine, probed+fineProbed, successes+fineSuccesses)
}

// ResetFrequency goes back to the center frequency and stores a zero offset.
func (c *Calibrator) ResetFrequency() error {
	c.mu.Lock()
	c.setTunedLocked(c.freq.CenterFrequencyHz)
	c.trackErrorHz, c.trackCount = 0, 0
	c.mu.Unlock()
	return c.persist()
}

// Track accumulates the frequency error of a successful read. Every TrackingReads
// reads, an average error above 2 kHz moves the tuned frequency by half of it.
func (c *Calibrator) Track(signal cc1101.SignalMetrics) (bool, error) {
	if c.config.TrackingReads <= 0 {
		return false, nil
	}
	c.mu.Lock()
	c.trackErrorHz += cc1101.FreqEstToHz(signal.FreqEst)
	c.trackCount++
	if c.trackCount < c.config.TrackingReads {
		c.mu.Unlock()
		return false, nil
	}
	average := c.trackErrorHz / float64(c.trackCount)
	c.trackErrorHz, c.trackCount = 0, 0
	if math.Abs(average) <= trackingMinErrorHz {
		c.mu.Unlock()
		c.logger.Debug("calibration: frequency stable", zap.Float64("avg_error_hz", average))
		return false, nil
	}
	c.setTunedLocked(c.freq.TunedFrequencyHz + average*trackingGain)
	tuned := c.freq.TunedFrequencyHz
	c.mu.Unlock()

	c.logger.Info("calibration: adaptive frequency correction",
		zap.Float64("avg_error_hz", average), zap.Float64("tuned_hz", tuned))
	return true, c.persist()
}

func (c *Calibrator) scan(ctx context.Context, meter radian.MeterIdentity, center float64, params ScanParams) (*candidate, int, int) {
	var best *candidate
	probed, successes := 0, 0
	limit := c.Radio().CenterFrequencyHz
	steps := int(math.Round(params.WindowHz / 2 / params.StepHz))

	for i := -steps; i <= steps; i++ {
		if ctx.Err() != nil {
			break
		}
		frequency := center + float64(i)*params.StepHz
		if math.Abs(frequency-limit) > MaxFrequencyOffsetHz {
			continue
		}
		probed++
		exchange, err := c.radio.Exchange(ctx, meter, frequency, c.config.Exchange)
		if err == nil {
			_, err = radian.ParseResponseFrame(exchange.Frame, meter, radian.ParseOptions{})
		}
		if err != nil {
			c.logger.Debug("calibration: no answer", zap.Float64("frequency_hz", frequency), zap.Error(err))
			continue
		}
		successes++
		probe := &candidate{
			frequencyHz: frequency,
			signal:      exchange.Signal,
			quality:     float64(exchange.Signal.LQIPercent+exchange.Signal.RSSIPercent) / 2,
		}
		c.logger.Debug("calibration: answer",
			zap.Float64("frequency_hz", frequency), zap.Int("rssi_dbm", probe.signal.RSSIDbm), zap.Float64("quality", probe.quality))
		if best == nil || c.better(probe, best, center) {
			best = probe
		}
	}
	return best, probed, successes
}

// better compares two decoded candidates. Quality wins only by more than the adaptive
// threshold; inside it the one closer to center is kept.
func (c *Calibrator) better(probe, best *candidate, center float64) bool {
	delta := probe.quality - best.quality
	threshold := float64(c.config.AdaptiveThreshold)
	switch {
	case delta > threshold:
		return true
	case delta < -threshold:
		return false
	}
	return math.Abs(probe.frequencyHz-center) < math.Abs(best.frequencyHz-center)
}

func (c *Calibrator) finish(best *candidate, probed, successes int) (*domain.CalibrationResult, error) {
	if best == nil {
		return nil, fmt.Errorf("%w: %d frequencies probed", ErrNoViableFrequency, probed)
	}
	c.mu.Lock()
	c.setTunedLocked(best.frequencyHz)
	result := &domain.CalibrationResult{
		TunedFrequencyHz:  c.freq.TunedFrequencyHz,
		FrequencyOffsetHz: c.freq.FrequencyOffsetHz,
		Signal:            best.signal,
		Candidates:        probed,
		Successes:         successes,
	}
	c.trackErrorHz, c.trackCount = 0, 0
	c.mu.Unlock()

	c.logger.Info("calibration: scan complete",
		zap.Float64("tuned_hz", result.TunedFrequencyHz), zap.Float64("offset_hz", result.FrequencyOffsetHz),
		zap.Int("successes", successes), zap.Int("probed", probed))
	return result, c.persist()
}

// setTunedLocked clamps to the calibration range.
func (c *Calibrator) setTunedLocked(frequencyHz float64) {
	center := c.freq.CenterFrequencyHz
	frequencyHz = math.Max(center-MaxFrequencyOffsetHz, math.Min(center+MaxFrequencyOffsetHz, frequencyHz))
	c.freq.TunedFrequencyHz = frequencyHz
	c.freq.FrequencyOffsetHz = frequencyHz - center
}

func (c *Calibrator) persist() error {
	if c.store == nil {
		return nil
	}
	c.mu.RLock()
	state := domain.FrequencyState{
		CenterFrequencyHz: c.freq.CenterFrequencyHz,
		OffsetHz:          c.freq.FrequencyOffsetHz,
		UpdatedAt:         c.now().UTC(),
	}
	c.mu.RUnlock()
	if err := c.store.Save(state); err != nil {
		return fmt.Errorf("store frequency offset: %w", err)
	}
	return nil
}
