package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedwatch/config"
	"feedwatch/display"
	"feedwatch/log"
	"feedwatch/services"

	"go.uber.org/zap"
)

func main() {
	logger := log.GetInstance()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	loc, err := cfg.TimeLocation()
	if err != nil {
		logger.Fatal("Failed to load time location", zap.Error(err))
	}
	time.Local = loc

	windows, err := cfg.Windows()
	if err != nil {
		logger.Fatal("Invalid feeding windows", zap.Error(err))
	}
	scheduler, err := services.NewWindowScheduler(windows, loc, cfg.WakeMargin)
	if err != nil {
		logger.Fatal("Invalid schedule", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := services.NewSyncedClock()
	timeSync := services.NewTimeSyncService(cfg.TimeURL, cfg.TimeSyncTimeout, clock, logger)

	statusSource, err := services.NewStatusSource(ctx, cfg, loc, logger)
	if err != nil {
		logger.Fatal("Failed to initialize status source", zap.Error(err))
	}

	panel, closePanel := newDisplay(cfg, loc, logger)
	defer closePanel()
	indicator := newIndicator(cfg, logger)
	power := newPowerManager(cfg, clock, logger)

	var notifier services.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegramService, err := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.HTTPTimeout, loc, logger)
		if err != nil {
			logger.Warn("Telegram diagnostics disabled", zap.Error(err))
		} else {
			notifier = telegramService
		}
	}

	settings := services.NetworkSettings{
		PollInterval:     cfg.PollInterval,
		ConnectTimeout:   cfg.ConnectTimeout,
		BackoffBase:      cfg.BackoffBase,
		BackoffMax:       cfg.BackoffMax,
		TimeSyncInterval: cfg.TimeSyncInterval,
		TimeSyncTimeout:  cfg.TimeSyncTimeout,
	}
	probeAddr := cfg.LinkProbeTarget()

	// every wake starts from Disconnected with fresh broker clients and breaker
	newNetwork := func() (services.Network, error) {
		source := services.NewBreakerStatusSource(statusSource, cfg.BreakerFailures, cfg.BreakerOpenTimeout, logger)
		link := services.NewProbeLink(probeAddr)
		return services.NewNetworkManager(settings, clock, link, services.NewPushSource(cfg, clock, logger), source, timeSync, logger), nil
	}

	orchestrator := services.NewOrchestrator(services.OrchestratorSettings{
		PollInterval:      cfg.PollInterval,
		MaxCycleBudget:    cfg.MaxCycleBudget,
		MinDeepSleep:      cfg.MinDeepSleep,
		DisplayMinRefresh: cfg.DisplayMinRefresh,
		FailureThreshold:  cfg.FailureThreshold,
	}, clock, scheduler, newNetwork, panel, indicator, power, notifier, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping feedwatch")
		cancel()
	}()

	logger.Info("Feedwatch started",
		zap.String("location", loc.String()),
		zap.String("morning", cfg.MorningWindow),
		zap.String("evening", cfg.EveningWindow),
		zap.String("status_source", cfg.StatusSource),
		zap.String("push_transport", cfg.PushTransport),
		zap.String("display", cfg.DisplayDriver),
		zap.String("power", cfg.PowerMode),
		zap.Duration("poll_interval", cfg.PollInterval))

	if err := orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Feedwatch stopped with error", zap.Error(err))
		return
	}

	if err := indicator.Off(context.Background()); err != nil {
		logger.Warn("Failed to switch indicators off", zap.Error(err))
	}
	logger.Info("Feedwatch stopped")
}

func newDisplay(cfg *config.Config, loc *time.Location, logger *zap.Logger) (services.Display, func()) {
	if cfg.DisplayDriver == config.DriverEPaper {
		panel, err := display.OpenEPaper(loc, logger)
		if err != nil {
			logger.Fatal("Failed to open e-paper display", zap.Error(err))
		}
		return panel, func() {
			if err := panel.Close(); err != nil {
				logger.Warn("Error closing e-paper display", zap.Error(err))
			}
		}
	}
	return services.NewLogDisplay(loc, logger), func() {}
}

func newIndicator(cfg *config.Config, logger *zap.Logger) services.Indicator {
	switch cfg.LEDDriver {
	case config.DriverGPIO:
		leds, err := display.OpenGPIOIndicator(cfg.LEDMorningPin, cfg.LEDEveningPin)
		if err != nil {
			logger.Fatal("Failed to open status LEDs", zap.Error(err))
		}
		return leds
	case config.DriverHTTP:
		logger.Info("Hardware indicator service initialized", zap.String("url", cfg.HardwareAPIURL))
		return services.NewHardwareIndicatorService(logger, cfg.HardwareAPIURL)
	default:
		return services.NewLogIndicator(logger)
	}
}

func newPowerManager(cfg *config.Config, clock *services.SyncedClock, logger *zap.Logger) services.PowerManager {
	if cfg.PowerMode == config.PowerRTC {
		return services.NewRTCSleeper(clock, cfg.RTCWakeAlarmPath, cfg.PowerStatePath, logger)
	}
	return services.NewTimerSleeper(clock)
}
