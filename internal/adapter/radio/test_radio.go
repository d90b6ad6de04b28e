package radio

import (
	"context"
	"fmt"
	"sync"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/core/port"
	"github.com/berfenger/everblu2mqtt/pkg/cc1101"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
)

// TestMeterRadio answers exchanges with frames built from Fields, without any
// transceiver.
type TestMeterRadio struct {
	mu sync.Mutex

	Fields radian.ResponseFields
	Signal cc1101.SignalMetrics
	// Reachable tells whether the meter answers at a frequency. Nil answers everywhere.
	Reachable func(frequencyHz float64) bool
	// SignalAt overrides Signal per frequency.
	SignalAt func(frequencyHz float64) cc1101.SignalMetrics
	// Errors are returned, one per exchange, before the meter answers again.
	Errors []error
	// Hold, when set, blocks every exchange until it receives or is closed.
	Hold    chan struct{}
	InitErr error

	inits     []float64
	exchanges []float64
}

func NewTestMeterRadio(fields radian.ResponseFields) *TestMeterRadio {
	return &TestMeterRadio{
		Fields: fields,
		Signal: cc1101.SignalMetrics{RSSIDbm: -80, RSSIPercent: 50, LQI: 30, LQIPercent: 88},
	}
}

func (r *TestMeterRadio) Init(frequencyHz float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits = append(r.inits, frequencyHz)
	return r.InitErr
}

func (r *TestMeterRadio) Exchange(ctx context.Context, meter radian.MeterIdentity, frequencyHz float64, opts domain.ExchangeOptions) (*domain.RadioExchange, error) {
	r.mu.Lock()
	hold := r.Hold
	r.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, fmt.Errorf("exchange: %w", cc1101.ErrTimeout)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges = append(r.exchanges, frequencyHz)
	if len(r.Errors) > 0 {
		err := r.Errors[0]
		r.Errors = r.Errors[1:]
		return nil, err
	}
	if r.Reachable != nil && !r.Reachable(frequencyHz) {
		return nil, fmt.Errorf("meter %s silent at %.0f Hz: %w", meter, frequencyHz, cc1101.ErrTimeout)
	}
	signal := r.Signal
	if r.SignalAt != nil {
		signal = r.SignalAt(frequencyHz)
	}
	return &domain.RadioExchange{
		Frame:       radian.BuildResponseFrame(meter, r.Fields),
		Signal:      signal,
		FrequencyHz: frequencyHz,
	}, nil
}

func (r *TestMeterRadio) Exchanges() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.exchanges...)
}

func (r *TestMeterRadio) Inits() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.inits...)
}

// ensure interface compliance
var _ port.MeterRadio = (*TestMeterRadio)(nil)
