package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/everblu2mqtt/internal/adapter/actor"
	"github.com/berfenger/everblu2mqtt/internal/adapter/radio"
	"github.com/berfenger/everblu2mqtt/internal/config"
	"github.com/berfenger/everblu2mqtt/internal/core/actor"
	"github.com/berfenger/everblu2mqtt/internal/core/port"
	"github.com/berfenger/everblu2mqtt/internal/core/service"
	"github.com/berfenger/everblu2mqtt/internal/server"
	"github.com/berfenger/everblu2mqtt/internal/store"
	"github.com/berfenger/everblu2mqtt/internal/util/actorutil"
	"github.com/berfenger/everblu2mqtt/pkg/cc1101"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// radio link
	bus := cc1101.NewReopeningBus(func() (cc1101.Bus, error) {
		periphBus, err := cc1101.OpenPeriphBus(cfg.Radio.SPIPort, cfg.Radio.SPISpeedHz, cfg.Radio.GDO0Pin)
		if err != nil {
			return nil, err
		}
		return periphBus, nil
	}, logger)
	if err := bus.Open(); err != nil {
		logger.Error("cannot open CC1101 bus, retrying on every read", zap.Error(err))
	}
	defer bus.Close()

	var instrumentation *cc1101.Instrument
	if cfg.Debug {
		instrumentation = cc1101.TraceLoggerInstrumentation(logger)
	}
	driver := cc1101.NewDriver(bus, logger, instrumentation)
	session := newSession(cfg, radio.NewRadianRadio(driver, logger), logger)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, session, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		logger.Error("cannot spawn master actor", zap.Error(err))
		return
	}

	server := server.NewServer(*cfg, ctx, pid, logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func newSession(cfg *config.Config, meterRadio port.MeterRadio, logger *zap.Logger) *service.Session {
	var frequencyStore port.FrequencyStore
	if cfg.Radio.StateFile != "" {
		frequencyStore = store.NewFileFrequencyStore(cfg.Radio.StateFile)
	} else {
		frequencyStore = store.NewMemoryFrequencyStore(nil)
	}
	calibrator := service.NewCalibrator(meterRadio, frequencyStore, cfg.ToRadioConfig(), cfg.ToCalibrationConfig(), logger)
	fsm := service.NewReadingFSM(cfg.ToScheduleConfig(), logger)
	return service.NewSession(cfg.ToSessionConfig(), meterRadio, fsm, calibrator, logger)
}

func initConfig() (*config.Config, error) {

	// alias PORT => EVERBLU_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("EVERBLU_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("everblu")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
		cfg.Debug = true
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}
	if cfg.Debug {
		cfg.LogLevel = zap.DebugLevel
	}

	// check bounds, fix topics
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("debug", false)
	viper.SetDefault("meter.year", 0)
	viper.SetDefault("meter.serial", 0)
	viper.SetDefault("meter.type", "water")
	viper.SetDefault("meter.gas_volume_divisor", 100)
	viper.SetDefault("radio.frequency_mhz", 433.82)
	viper.SetDefault("radio.auto_scan", true)
	viper.SetDefault("radio.adaptive_threshold", 10)
	viper.SetDefault("radio.adaptive_tracking_reads", 10)
	viper.SetDefault("radio.scan_window_khz", 60)
	viper.SetDefault("radio.scan_step_khz", 5)
	viper.SetDefault("radio.gdo0_pin", "GPIO25")
	viper.SetDefault("radio.spi_port", "")
	viper.SetDefault("radio.spi_speed_hz", 500000)
	viper.SetDefault("radio.state_file", "")
	viper.SetDefault("schedule.reading_schedule", "Monday-Friday")
	viper.SetDefault("schedule.read_hour", 10)
	viper.SetDefault("schedule.read_minute", 0)
	viper.SetDefault("schedule.timezone_offset", 0)
	viper.SetDefault("schedule.auto_align_time", true)
	viper.SetDefault("schedule.auto_align_midpoint", true)
	viper.SetDefault("schedule.max_retries", 10)
	viper.SetDefault("schedule.retry_cooldown_millis", 3600000)
	viper.SetDefault("schedule.initial_read_on_boot", false)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "everblu")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
