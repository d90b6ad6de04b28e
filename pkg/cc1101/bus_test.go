package cc1101

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReopeningBus(t *testing.T) {

	assert := assert.New(t)

	var testBus *TestBus
	opens := 0
	bus := NewReopeningBus(func() (Bus, error) {
		opens++
		if testBus == nil {
			return nil, errors.New("open /dev/spidev0.0: no such file or directory")
		}
		return testBus, nil
	}, zap.NewNop())

	err := bus.Open()
	assert.True(errors.Is(err, ErrNotResponding))
	assert.False(bus.GDO0())

	driver := NewDriver(bus, zap.NewNop(), nil)
	err = driver.Reset()
	assert.True(errors.Is(err, ErrNotResponding), "a missing bus reads as a missing chip")
	assert.Equal(3, opens, "every use retries the open")

	// plugged in later
	testBus = NewTestBus()
	require.NoError(t, driver.Reset())
	assert.Contains(testBus.Strobes(), SRES)
	assert.Equal(4, opens)

	require.NoError(t, driver.Reset())
	assert.Equal(4, opens, "an open bus is kept")

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
}
