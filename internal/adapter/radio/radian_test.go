package radio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/pkg/cc1101"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testMeter = radian.MeterIdentity{Year: 20, Serial: 257750, Type: radian.Water}

var testOptions = domain.ExchangeOptions{AckTimeout: 50 * time.Millisecond, DataTimeout: 200 * time.Millisecond}

func testFields() radian.ResponseFields {
	return radian.ResponseFields{
		Volume:        123456,
		BatteryMonths: 160,
		Counter:       42,
		TimeStart:     6,
		TimeEnd:       18,
	}
}

func newTestRadio(t *testing.T) (*RadianRadio, *cc1101.TestBus) {
	bus := cc1101.NewTestBus()
	driver := cc1101.NewDriver(bus, zap.NewNop(), nil)
	driver.SetDelay(func(time.Duration) {})
	radio := NewRadianRadio(driver, zap.Must(zap.NewDevelopment()))
	require.NoError(t, radio.Init(433.82e6))
	return radio, bus
}

// meterResponder plays a meter answering with an acknowledge and then the data frame.
// Each frame is announced by the preamble stage and sent on the following SRX.
func meterResponder(data []byte, withAck bool) func(cc1101.RxRequest) []byte {
	return func(req cc1101.RxRequest) []byte {
		if req.LastTx == nil {
			return nil
		}
		switch {
		case req.Sync == syncPreamble:
			return []byte{0x55}
		case req.Sync == syncFrame && req.Index == 1:
			if !withAck {
				return nil
			}
			return radian.AirResponse(radian.AckFrame(testMeter), radian.AckFrameSize)
		case req.Sync == syncFrame:
			return radian.AirResponse(data, radian.DataFrameSize)
		}
		return nil
	}
}

func TestExchange(t *testing.T) {

	assert := assert.New(t)

	radio, bus := newTestRadio(t)
	frame := radian.BuildResponseFrame(testMeter, testFields())
	bus.Responder = meterResponder(frame, true)
	bus.FreqEst = 0xFE

	exchange, err := radio.Exchange(context.Background(), testMeter, 433.83e6, testOptions)
	require.NoError(t, err)

	assert.Equal(frame, exchange.Frame)
	assert.InDelta(433.83e6, exchange.FrequencyHz, cc1101.FrequencyStepHz(cc1101.XtalFrequencyHz))
	assert.Equal(-90, exchange.Signal.RSSIDbm)
	assert.Equal(int8(-2), exchange.Signal.FreqEst)

	// wake up burst followed by the request
	sent := bus.Transmitted()
	require.Len(t, sent, 1)
	request := radian.BuildRequestFrame(testMeter)
	assert.Len(sent[0], wakeUpRepeat*len(wakeUpPattern)+len(request))
	assert.Equal(request, sent[0][len(sent[0])-len(request):])

	assert.Equal(cc1101.MarcSleep, bus.State(), "radio sleeps between exchanges")

	reading, err := radian.ParseResponseFrame(exchange.Frame, testMeter, radian.ParseOptions{})
	require.NoError(t, err)
	assert.Equal(uint32(123456), reading.Volume)
}

func TestExchangeWithoutAck(t *testing.T) {

	radio, bus := newTestRadio(t)
	frame := radian.BuildResponseFrame(testMeter, testFields())
	bus.Responder = meterResponder(frame, false)

	// the ack stage times out, the data frame still comes on the next preamble
	exchange, err := radio.Exchange(context.Background(), testMeter, 433.82e6, testOptions)
	require.NoError(t, err)
	assert.Equal(t, frame, exchange.Frame)
}

func TestExchangeSilentMeter(t *testing.T) {

	radio, bus := newTestRadio(t)

	start := time.Now()
	_, err := radio.Exchange(context.Background(), testMeter, 433.82e6, testOptions)
	assert.True(t, errors.Is(err, cc1101.ErrTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, cc1101.MarcSleep, bus.State())
	assert.Equal(t, domain.ErrorTimeout, domain.ClassifyError(err))
}

func TestInitWithoutChip(t *testing.T) {

	bus := cc1101.NewTestBus()
	bus.Version = 0x00
	driver := cc1101.NewDriver(bus, zap.NewNop(), nil)
	driver.SetDelay(func(time.Duration) {})

	err := NewRadianRadio(driver, zap.NewNop()).Init(433.82e6)
	assert.True(t, errors.Is(err, cc1101.ErrNotResponding))
	assert.Equal(t, domain.ErrorNotResponding, domain.ClassifyError(err))
}

func TestMissingBusIsNotResponding(t *testing.T) {

	bus := cc1101.NewReopeningBus(func() (cc1101.Bus, error) {
		return nil, errors.New("gdo0 pin \"GPIO99\" not found")
	}, zap.NewNop())
	driver := cc1101.NewDriver(bus, zap.NewNop(), nil)
	driver.SetDelay(func(time.Duration) {})
	radio := NewRadianRadio(driver, zap.NewNop())

	err := radio.Init(433.82e6)
	assert.Equal(t, domain.ErrorNotResponding, domain.ClassifyError(err))

	_, err = radio.Exchange(context.Background(), testMeter, 433.82e6, testOptions)
	assert.Equal(t, domain.ErrorNotResponding, domain.ClassifyError(err))
}
