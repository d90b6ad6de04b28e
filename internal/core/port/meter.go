package port

import (
	"context"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
)

// MeterRadio is the radio capability a meter session needs. Implementations own the
// transceiver; callers serialize access.
type MeterRadio interface {
	// Init resets and configures the transceiver at the given frequency.
	Init(frequencyHz float64) error
	// Exchange wakes the radio, sends a read request to the meter at frequencyHz and
	// returns the decoded data frame together with the signal metrics. The radio is put
	// back to sleep before returning, on success and on failure.
	Exchange(ctx context.Context, meter radian.MeterIdentity, frequencyHz float64, opts domain.ExchangeOptions) (*domain.RadioExchange, error)
}

// FrequencyStore persists the calibrated frequency offset across restarts.
type FrequencyStore interface {
	// Load returns nil when nothing was stored yet.
	Load() (*domain.FrequencyState, error)
	Save(state domain.FrequencyState) error
}
