package util

import (
	"github.com/berfenger/everblu2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Meter: config.MeterConfig{
			Year:             20,
			Serial:           257750,
			Type:             "water",
			GasVolumeDivisor: 100,
		},
		Radio: config.RadioConfig{
			FrequencyMHz:          433.82,
			AutoScan:              false,
			AdaptiveThreshold:     10,
			AdaptiveTrackingReads: 10,
			ScanWindowKHz:         60,
			ScanStepKHz:           5,
		},
		Schedule: config.ScheduleConfig{
			ReadingSchedule:     "Monday-Friday",
			ReadHour:            10,
			MaxRetries:          10,
			RetryCooldownMillis: 3600000,
		},
		MQTT: config.MQTTConfig{
			Host:              "localhost",
			Port:              1883,
			BaseTopic:         "everblu",
			HADiscoveryEnable: true,
			HADiscoveryTopic:  "homeassistant",
		},
		Port: 8080,
	}
}
