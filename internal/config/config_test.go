package config

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/pkg/radian"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Meter: MeterConfig{Year: 20, Serial: 257750, Type: "water", GasVolumeDivisor: 100},
		Radio: RadioConfig{
			FrequencyMHz:      433.82,
			AdaptiveThreshold: 10,
			ScanWindowKHz:     60,
			ScanStepKHz:       5,
		},
		Schedule: ScheduleConfig{
			ReadingSchedule:     "Monday-Friday",
			ReadHour:            10,
			MaxRetries:          10,
			RetryCooldownMillis: 3600000,
		},
		MQTT: MQTTConfig{BaseTopic: "EverBlu", HADiscoveryTopic: "homeassistant"},
	}
}

func TestValidConfig(t *testing.T) {

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "everblu", cfg.MQTT.BaseTopic, "topics are lower cased")
}

func TestConfigBounds(t *testing.T) {

	cases := map[string]func(*Config){
		"year":            func(c *Config) { c.Meter.Year = 100 },
		"serial missing":  func(c *Config) { c.Meter.Serial = 0 },
		"serial width":    func(c *Config) { c.Meter.Serial = 0x100000000 },
		"serial negative": func(c *Config) { c.Meter.Serial = -5 },
		"year negative":   func(c *Config) { c.Meter.Year = -1 },
		"meter type":      func(c *Config) { c.Meter.Type = "electricity" },
		"divisor":         func(c *Config) { c.Meter.GasVolumeDivisor = 1001 },
		"frequency":       func(c *Config) { c.Radio.FrequencyMHz = 100 },
		"threshold":       func(c *Config) { c.Radio.AdaptiveThreshold = 0 },
		"scan step":       func(c *Config) { c.Radio.ScanStepKHz = 0 },
		"scan window":     func(c *Config) { c.Radio.ScanWindowKHz = 250 },
		"schedule":        func(c *Config) { c.Schedule.ReadingSchedule = "weekends" },
		"hour":            func(c *Config) { c.Schedule.ReadHour = 24 },
		"minute":          func(c *Config) { c.Schedule.ReadMinute = 60 },
		"timezone":        func(c *Config) { c.Schedule.TimezoneOffset = 721 },
		"max retries":     func(c *Config) { c.Schedule.MaxRetries = 51 },
		"no retries":      func(c *Config) { c.Schedule.MaxRetries = 0 },
		"cooldown":        func(c *Config) { c.Schedule.RetryCooldownMillis = 10 },
		"base topic":      func(c *Config) { c.MQTT.BaseTopic = "ever/blu" },
		"discovery topic": func(c *Config) { c.MQTT.HADiscoveryTopic = "" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		err := cfg.Validate()
		var cfgErr *ConfigError
		if assert.True(t, errors.As(err, &cfgErr), name) {
			assert.Len(t, cfgErr.Problems, 1, name)
		}
	}
}

func TestConfigErrorListsAllProblems(t *testing.T) {

	cfg := validConfig()
	cfg.Meter.Year = 120
	cfg.Schedule.ReadHour = 30
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meter.year")
	assert.Contains(t, err.Error(), "schedule.read_hour")
}

func TestDomainConversion(t *testing.T) {

	assert := assert.New(t)

	cfg := validConfig()
	cfg.Meter.Type = "Gas"
	cfg.Schedule.TimezoneOffset = -300
	require.NoError(t, cfg.Validate())

	assert.Equal(radian.MeterIdentity{Year: 20, Serial: 257750, Type: radian.Gas}, cfg.MeterIdentity())

	radio := cfg.ToRadioConfig()
	assert.InDelta(433.82e6, radio.CenterFrequencyHz, 1e-3)
	assert.Equal(radio.CenterFrequencyHz, radio.TunedFrequencyHz)

	schedule := cfg.ToScheduleConfig()
	assert.Equal(domain.ScheduleMonFri, schedule.Schedule)
	assert.Equal(time.Hour, schedule.RetryCooldown)
	assert.Equal(-300, schedule.TimezoneOffsetMinutes)

	calibration := cfg.ToCalibrationConfig()
	assert.Equal(60e3, calibration.Narrow.WindowHz)
	assert.Equal(5e3, calibration.Narrow.StepHz)

	session := cfg.ToSessionConfig()
	assert.Equal(uint16(100), session.GasDivisor)
}

func loadYAML(t *testing.T, yaml string) Config {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yaml)))
	cfg := validConfig()
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

func TestOutOfRangeValuesAreNotWrapped(t *testing.T) {

	assert := assert.New(t)

	cfg := loadYAML(t, "meter:\n  year: 300\n  gas_volume_divisor: 65537\n")
	assert.Equal(300, cfg.Meter.Year)
	assert.Equal(65537, cfg.Meter.GasVolumeDivisor)

	err := cfg.Validate()
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Len(cfgErr.Problems, 2)
	assert.Contains(err.Error(), "meter.year must be 0-99, got 300")
	assert.Contains(err.Error(), "meter.gas_volume_divisor must be 1-1000, got 65537")
}

func TestWideSerialIsAccepted(t *testing.T) {

	assert := assert.New(t)

	cfg := loadYAML(t, "meter:\n  year: 21\n  serial: 20123456\n")
	require.NoError(t, cfg.Validate())

	id := cfg.MeterIdentity()
	assert.Equal(uint8(21), id.Year)
	assert.Equal(uint32(20123456), id.Serial)
	assert.Equal(uint32(20123456&0xFFFFFF), id.WireSerial())
}
