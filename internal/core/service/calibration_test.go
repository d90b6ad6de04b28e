package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/berfenger/everblu2mqtt/internal/adapter/radio"
	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/core/port"
	"github.com/berfenger/everblu2mqtt/internal/store"
	"github.com/berfenger/everblu2mqtt/pkg/cc1101"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCenterHz = 433.82e6

var testMeter = radian.MeterIdentity{Year: 20, Serial: 257750, Type: radian.Water}

func testResponse() radian.ResponseFields {
	return radian.ResponseFields{
		Volume:        123456,
		BatteryMonths: 160,
		Counter:       42,
		TimeStart:     6,
		TimeEnd:       18,
	}
}

func testCalibrator(r *radio.TestMeterRadio, s port.FrequencyStore, cfg CalibrationConfig) *Calibrator {
	return NewCalibrator(r, s, domain.RadioConfig{CenterFrequencyHz: testCenterHz}, cfg, zap.NewNop())
}

func reachableAt(frequencies ...float64) func(float64) bool {
	return func(f float64) bool {
		for _, want := range frequencies {
			if math.Abs(f-want) < 1 {
				return true
			}
		}
		return false
	}
}

func TestScanFindsSingleCandidate(t *testing.T) {

	assert := assert.New(t)

	r := radio.NewTestMeterRadio(testResponse())
	r.Reachable = reachableAt(testCenterHz + 10e3)
	s := store.NewMemoryFrequencyStore(nil)
	c := testCalibrator(r, s, CalibrationConfig{AdaptiveThreshold: 10})

	result, err := c.Scan(context.Background(), testMeter, NarrowScan)
	require.NoError(t, err)
	assert.Equal(testCenterHz+10e3, result.TunedFrequencyHz)
	assert.Equal(10e3, result.FrequencyOffsetHz)
	assert.Equal(13, result.Candidates)
	assert.Equal(1, result.Successes)
	assert.Len(r.Exchanges(), 13)
	assert.Equal(testCenterHz+10e3, c.TunedFrequencyHz())

	saved, err := s.Load()
	require.NoError(t, err)
	assert.Equal(10e3, saved.OffsetHz)
	assert.Equal(testCenterHz, saved.CenterFrequencyHz)
}

func TestScanWithoutAnswerKeepsFrequency(t *testing.T) {

	assert := assert.New(t)

	r := radio.NewTestMeterRadio(testResponse())
	r.Reachable = func(float64) bool { return false }
	s := store.NewMemoryFrequencyStore(&domain.FrequencyState{CenterFrequencyHz: testCenterHz, OffsetHz: -5e3})
	c := testCalibrator(r, s, CalibrationConfig{AdaptiveThreshold: 10})

	loaded, err := c.Load()
	require.NoError(t, err)
	assert.True(loaded)

	result, err := c.Scan(context.Background(), testMeter, NarrowScan)
	assert.Nil(result)
	assert.True(errors.Is(err, ErrNoViableFrequency))
	assert.Equal(testCenterHz-5e3, c.TunedFrequencyHz())
	assert.Equal(0, s.Saves())
}

func TestScanIgnoresUndecodableAnswers(t *testing.T) {

	r := radio.NewTestMeterRadio(radian.ResponseFields{Volume: 0, BatteryMonths: 1, Counter: 1})
	c := testCalibrator(r, nil, CalibrationConfig{})

	_, err := c.Scan(context.Background(), testMeter, NarrowScan)
	assert.ErrorIs(t, err, ErrNoViableFrequency, "undecodable answers do not count")
}

func TestScanPrefersCenterWithinThreshold(t *testing.T) {

	assert := assert.New(t)

	quality := map[float64]int{}
	r := radio.NewTestMeterRadio(testResponse())
	r.Reachable = reachableAt(testCenterHz+5e3, testCenterHz-10e3)
	r.SignalAt = func(f float64) cc1101.SignalMetrics {
		q := quality[f]
		return cc1101.SignalMetrics{RSSIPercent: q, LQIPercent: q}
	}
	quality[testCenterHz+5e3] = 60
	quality[testCenterHz-10e3] = 65

	c := testCalibrator(r, nil, CalibrationConfig{AdaptiveThreshold: 10})
	result, err := c.Scan(context.Background(), testMeter, NarrowScan)
	require.NoError(t, err)
	assert.Equal(5e3, result.FrequencyOffsetHz, "a small quality edge does not move away from center")

	quality[testCenterHz-10e3] = 80
	result, err = c.Scan(context.Background(), testMeter, NarrowScan)
	require.NoError(t, err)
	assert.Equal(-10e3, result.FrequencyOffsetHz)
	assert.Equal(80, result.Signal.RSSIPercent)
}

func TestWideScanRefinesCoarseWinner(t *testing.T) {

	assert := assert.New(t)

	target := testCenterHz + 47e3
	r := radio.NewTestMeterRadio(testResponse())
	r.Reachable = func(f float64) bool { return math.Abs(f-target) <= 4e3 }
	r.SignalAt = func(f float64) cc1101.SignalMetrics {
		if math.Abs(f-target) < 1 {
			return cc1101.SignalMetrics{RSSIPercent: 100, LQIPercent: 100}
		}
		return cc1101.SignalMetrics{RSSIPercent: 50, LQIPercent: 50}
	}
	c := testCalibrator(r, nil, CalibrationConfig{AdaptiveThreshold: 10})

	result, err := c.WideScan(context.Background(), testMeter)
	require.NoError(t, err)
	assert.InDelta(47e3, result.FrequencyOffsetHz, 1)
	assert.Equal(21+11, result.Candidates)
	assert.Equal(1+3, result.Successes)
}

func TestWideScanStaysInRange(t *testing.T) {

	r := radio.NewTestMeterRadio(testResponse())
	r.Reachable = reachableAt(testCenterHz + 100e3)
	c := testCalibrator(r, nil, CalibrationConfig{})

	result, err := c.WideScan(context.Background(), testMeter)
	require.NoError(t, err)
	assert.Equal(t, 100e3, result.FrequencyOffsetHz)
	for _, f := range r.Exchanges() {
		assert.LessOrEqual(t, math.Abs(f-testCenterHz), MaxFrequencyOffsetHz)
	}
}

func TestScanStopsOnCancel(t *testing.T) {

	r := radio.NewTestMeterRadio(testResponse())
	c := testCalibrator(r, nil, CalibrationConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Scan(ctx, testMeter, NarrowScan)
	assert.ErrorIs(t, err, ErrNoViableFrequency)
	assert.Empty(t, r.Exchanges())
}

func TestTrackCorrectsDrift(t *testing.T) {

	assert := assert.New(t)

	s := store.NewMemoryFrequencyStore(nil)
	c := testCalibrator(radio.NewTestMeterRadio(testResponse()), s, CalibrationConfig{TrackingReads: 3})

	// FREQEST 2 is about 3.17 kHz
	drift := cc1101.SignalMetrics{FreqEst: 2}
	for i := 0; i < 2; i++ {
		adjusted, err := c.Track(drift)
		require.NoError(t, err)
		assert.False(adjusted)
	}
	adjusted, err := c.Track(drift)
	require.NoError(t, err)
	assert.True(adjusted)
	assert.InDelta(testCenterHz+cc1101.FreqEstToHz(2)/2, c.TunedFrequencyHz(), 1e-3)
	assert.Equal(1, s.Saves())

	// FREQEST 1 is under the 2 kHz dead band
	tuned := c.TunedFrequencyHz()
	for i := 0; i < 3; i++ {
		adjusted, err = c.Track(cc1101.SignalMetrics{FreqEst: 1})
		require.NoError(t, err)
		assert.False(adjusted)
	}
	assert.Equal(tuned, c.TunedFrequencyHz())
}

func TestTrackDisabled(t *testing.T) {
	c := testCalibrator(radio.NewTestMeterRadio(testResponse()), nil, CalibrationConfig{})
	adjusted, err := c.Track(cc1101.SignalMetrics{FreqEst: 100})
	assert.NoError(t, err)
	assert.False(t, adjusted)
	assert.Equal(t, testCenterHz, c.TunedFrequencyHz())
}

func TestLoadIgnoresForeignOffsets(t *testing.T) {

	cases := map[string]domain.FrequencyState{
		"other center": {CenterFrequencyHz: 433.9e6, OffsetHz: 5e3},
		"out of range": {CenterFrequencyHz: testCenterHz, OffsetHz: 250e3},
	}
	for name, state := range cases {
		c := testCalibrator(radio.NewTestMeterRadio(testResponse()), store.NewMemoryFrequencyStore(&state), CalibrationConfig{})
		loaded, err := c.Load()
		require.NoError(t, err, name)
		assert.False(t, loaded, name)
		assert.Equal(t, testCenterHz, c.TunedFrequencyHz(), name)
	}
}

func TestResetFrequency(t *testing.T) {

	s := store.NewMemoryFrequencyStore(&domain.FrequencyState{CenterFrequencyHz: testCenterHz, OffsetHz: 12e3})
	c := testCalibrator(radio.NewTestMeterRadio(testResponse()), s, CalibrationConfig{})
	_, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, testCenterHz+12e3, c.TunedFrequencyHz())

	require.NoError(t, c.ResetFrequency())
	assert.Equal(t, testCenterHz, c.TunedFrequencyHz())
	saved, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0.0, saved.OffsetHz)
}

func TestStoreErrorIsReported(t *testing.T) {

	s := store.NewMemoryFrequencyStore(nil)
	s.SaveErr = errors.New("read-only filesystem")
	c := testCalibrator(radio.NewTestMeterRadio(testResponse()), s, CalibrationConfig{})

	result, err := c.Scan(context.Background(), testMeter, NarrowScan)
	assert.NotNil(t, result, "the scan itself succeeded")
	assert.ErrorContains(t, err, "read-only filesystem")
}

func TestNarrowScanUsesConfiguredWindow(t *testing.T) {

	r := radio.NewTestMeterRadio(testResponse())
	c := testCalibrator(r, nil, CalibrationConfig{Narrow: ScanParams{WindowHz: 20e3, StepHz: 2e3}})

	result, err := c.NarrowScan(context.Background(), testMeter)
	require.NoError(t, err)
	assert.Equal(t, 11, result.Candidates)
	assert.Equal(t, 0.0, result.FrequencyOffsetHz)
}
