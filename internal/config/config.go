package config

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"
	"github.com/berfenger/everblu2mqtt/internal/core/service"
	"github.com/berfenger/everblu2mqtt/pkg/radian"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Debug    bool           `mapstructure:"debug"`
	Meter    MeterConfig    `mapstructure:"meter"`
	Radio    RadioConfig    `mapstructure:"radio"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Port     uint           `mapstructure:"port"`
	HttpLog  bool           `mapstructure:"http_log"`
}

// MeterConfig holds the raw values; the narrow wire types are applied after Validate so
// out of range input is reported instead of wrapped.
type MeterConfig struct {
	Year             int
	Serial           int64
	Type             string
	GasVolumeDivisor int `mapstructure:"gas_volume_divisor"`
}

type RadioConfig struct {
	FrequencyMHz          float64 `mapstructure:"frequency_mhz"`
	AutoScan              bool    `mapstructure:"auto_scan"`
	AdaptiveThreshold     int     `mapstructure:"adaptive_threshold"`
	AdaptiveTrackingReads int     `mapstructure:"adaptive_tracking_reads"`
	ScanWindowKHz         float64 `mapstructure:"scan_window_khz"`
	ScanStepKHz           float64 `mapstructure:"scan_step_khz"`
	GDO0Pin               string  `mapstructure:"gdo0_pin"`
	SPIPort               string  `mapstructure:"spi_port"`
	SPISpeedHz            int64   `mapstructure:"spi_speed_hz"`
	StateFile             string  `mapstructure:"state_file"`
}

type ScheduleConfig struct {
	ReadingSchedule     string `mapstructure:"reading_schedule"`
	ReadHour            int    `mapstructure:"read_hour"`
	ReadMinute          int    `mapstructure:"read_minute"`
	TimezoneOffset      int    `mapstructure:"timezone_offset"`
	AutoAlignTime       bool   `mapstructure:"auto_align_time"`
	AutoAlignMidpoint   bool   `mapstructure:"auto_align_midpoint"`
	MaxRetries          int    `mapstructure:"max_retries"`
	RetryCooldownMillis int64  `mapstructure:"retry_cooldown_millis"`
	InitialReadOnBoot   bool   `mapstructure:"initial_read_on_boot"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

// ConfigError lists every invalid parameter found by Validate.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks bounds and normalizes topics in place.
func (cfg *Config) Validate() error {
	errs := &ConfigError{}

	if cfg.Meter.Year < 0 || cfg.Meter.Year > 99 {
		errs.add("meter.year must be 0-99, got %d", cfg.Meter.Year)
	}
	if cfg.Meter.Serial == 0 {
		errs.add("meter.serial is required")
	} else if cfg.Meter.Serial < 0 || cfg.Meter.Serial > math.MaxUint32 {
		errs.add("meter.serial must be 1-%d, got %d", uint32(math.MaxUint32), cfg.Meter.Serial)
	}
	if _, err := radian.ParseMeterType(cfg.Meter.Type); err != nil {
		errs.add("meter.type: %s", err)
	}
	if cfg.Meter.GasVolumeDivisor < 1 || cfg.Meter.GasVolumeDivisor > 1000 {
		errs.add("meter.gas_volume_divisor must be 1-1000, got %d", cfg.Meter.GasVolumeDivisor)
	}

	if cfg.Radio.FrequencyMHz < 300 || cfg.Radio.FrequencyMHz > 928 {
		errs.add("radio.frequency_mhz must be 300-928, got %.4f", cfg.Radio.FrequencyMHz)
	}
	if cfg.Radio.AdaptiveThreshold < 1 || cfg.Radio.AdaptiveThreshold > 100 {
		errs.add("radio.adaptive_threshold must be 1-100, got %d", cfg.Radio.AdaptiveThreshold)
	}
	if cfg.Radio.AdaptiveTrackingReads < 0 {
		errs.add("radio.adaptive_tracking_reads must be >= 0")
	}
	if cfg.Radio.ScanStepKHz <= 0 || cfg.Radio.ScanWindowKHz < cfg.Radio.ScanStepKHz {
		errs.add("radio.scan_window_khz must be >= radio.scan_step_khz > 0")
	}
	if cfg.Radio.ScanWindowKHz > 200 {
		errs.add("radio.scan_window_khz must be <= 200")
	}

	if _, err := domain.ParseReadingSchedule(cfg.Schedule.ReadingSchedule); err != nil {
		errs.add("schedule.reading_schedule: %s", err)
	}
	if cfg.Schedule.ReadHour < 0 || cfg.Schedule.ReadHour > 23 {
		errs.add("schedule.read_hour must be 0-23, got %d", cfg.Schedule.ReadHour)
	}
	if cfg.Schedule.ReadMinute < 0 || cfg.Schedule.ReadMinute > 59 {
		errs.add("schedule.read_minute must be 0-59, got %d", cfg.Schedule.ReadMinute)
	}
	if cfg.Schedule.TimezoneOffset < -720 || cfg.Schedule.TimezoneOffset > 720 {
		errs.add("schedule.timezone_offset must be -720..720 minutes, got %d", cfg.Schedule.TimezoneOffset)
	}
	if cfg.Schedule.MaxRetries < 1 || cfg.Schedule.MaxRetries > 50 {
		errs.add("schedule.max_retries must be 1-50, got %d", cfg.Schedule.MaxRetries)
	}
	if cfg.Schedule.RetryCooldownMillis < 1000 {
		errs.add("schedule.retry_cooldown_millis should be >= 1000")
	}

	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		errs.add("mqtt.base_topic: %s", err)
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		errs.add("mqtt.ha_discovery_topic: %s", err)
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if len(errs.Problems) > 0 {
		return errs
	}
	return nil
}

func (cfg *Config) MeterIdentity() radian.MeterIdentity {
	meterType, _ := radian.ParseMeterType(cfg.Meter.Type)
	return radian.MeterIdentity{
		Year:   uint8(cfg.Meter.Year),
		Serial: uint32(cfg.Meter.Serial),
		Type:   meterType,
	}
}

func (cfg *Config) ToRadioConfig() domain.RadioConfig {
	center := cfg.Radio.FrequencyMHz * 1e6
	return domain.RadioConfig{
		CenterFrequencyHz: center,
		TunedFrequencyHz:  center,
		GDO0Pin:           cfg.Radio.GDO0Pin,
	}
}

func (cfg *Config) ToScheduleConfig() domain.ScheduleConfig {
	schedule, _ := domain.ParseReadingSchedule(cfg.Schedule.ReadingSchedule)
	return domain.ScheduleConfig{
		Schedule:              schedule,
		ReadHour:              cfg.Schedule.ReadHour,
		ReadMinute:            cfg.Schedule.ReadMinute,
		TimezoneOffsetMinutes: cfg.Schedule.TimezoneOffset,
		AutoAlignTime:         cfg.Schedule.AutoAlignTime,
		AutoAlignMidpoint:     cfg.Schedule.AutoAlignMidpoint,
		MaxRetries:            cfg.Schedule.MaxRetries,
		RetryCooldown:         time.Duration(cfg.Schedule.RetryCooldownMillis) * time.Millisecond,
		InitialReadOnBoot:     cfg.Schedule.InitialReadOnBoot,
	}
}

func (cfg *Config) ToCalibrationConfig() service.CalibrationConfig {
	return service.CalibrationConfig{
		AdaptiveThreshold: cfg.Radio.AdaptiveThreshold,
		TrackingReads:     cfg.Radio.AdaptiveTrackingReads,
		Exchange:          service.DefaultExchangeOptions,
		Narrow: service.ScanParams{
			WindowHz: cfg.Radio.ScanWindowKHz * 1e3,
			StepHz:   cfg.Radio.ScanStepKHz * 1e3,
		},
	}
}

func (cfg *Config) ToSessionConfig() service.SessionConfig {
	return service.SessionConfig{
		Meter:      cfg.MeterIdentity(),
		Schedule:   cfg.ToScheduleConfig(),
		GasDivisor: uint16(cfg.Meter.GasVolumeDivisor),
		Exchange:   service.DefaultExchangeOptions,
	}
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
