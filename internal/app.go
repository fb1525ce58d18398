package internal

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

	logger_adapter "metasync-import-service/internal/adapters/logger"
	"metasync-import-service/internal/adapters/metasync"
	postgres_adapter "metasync-import-service/internal/adapters/postgres"
	rabbitmq_adapter "metasync-import-service/internal/adapters/rabbitmq"
	"metasync-import-service/internal/adapters/rest"
	"metasync-import-service/internal/configs"
	"metasync-import-service/internal/contextkeys"
	"metasync-import-service/internal/core/port"
	"metasync-import-service/internal/core/usecase"
	"metasync-import-service/pkg/fluentlogger"
	"metasync-import-service/pkg/postgres"

	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/jackc/pgx/v5/pgxpool"
)

type App struct {
	config    *configs.AppConfig
	apiServer *rest.Server
	scheduler *usecase.SchedulerService

	pool            *pgxpool.Pool
	eventsPublisher *rabbitmq_adapter.RunEventsPublisher
	logger          port.LoggerPort
	baseLogger      port.LoggerPort
	fluentClient    *fluent.Fluent
}

func NewApp() (*App, error) {
	appConfig, err := configs.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading application configuration: %w", err)
	}

	// --- 1. ИНИЦИАЛИЗАЦИЯ ЛОГГЕРОВ ---
	var activeLoggers []port.LoggerPort

	slogCfg := logger_adapter.SlogConfig{
		Level:    parseLogLevel(appConfig.StdoutLogger.Level),
		IsJSON:   false,
		UseColor: true,
	}
	stdoutLogger := logger_adapter.NewSlogAdapter(slogCfg)
	activeLoggers = append(activeLoggers, stdoutLogger)

	var fluentClient *fluent.Fluent
	if appConfig.FluentBit.Enabled {
		fluentClient, err = fluentlogger.NewClient(fluentlogger.Config{
			Host:      appConfig.FluentBit.Host,
			Port:      appConfig.FluentBit.Port,
			TagPrefix: appConfig.AppName,
		})
		if err != nil {
			stdoutLogger.Error("Failed to create fluentbit client", err, nil)
			return nil, fmt.Errorf("failed to create fluentbit client: %w", err)
		}

		fluentAdapter, err := logger_adapter.NewFluentLoggerAdapter(fluentClient, parseLogLevel(appConfig.FluentBit.Level))
		if err != nil {
			stdoutLogger.Error("Failed to create fluentbit adapter", err, nil)
			fluentClient.Close()
			return nil, err
		}
		activeLoggers = append(activeLoggers, fluentAdapter)
	}

	multiLogger, err := logger_adapter.NewMultiloggerAdapter(activeLoggers...)
	if err != nil {
		return nil, fmt.Errorf("failed to create multi-logger: %w", err)
	}

	baseLogger := multiLogger.WithFields(port.Fields{
		"service_name": appConfig.AppName,
	})
	appLogger := baseLogger.WithFields(port.Fields{"component": "app"})
	appLogger.Info("Logger system initialized", port.Fields{
		"active_loggers": len(activeLoggers), "fluent_enabled": appConfig.FluentBit.Enabled,
	})

	// --- 2. ХРАНИЛИЩЕ ---
	pool, err := postgres.NewClient(context.Background(), postgres.Config{
		DatabaseURL: appConfig.Database.URL,
	})
	if err != nil {
		appLogger.Error("Failed to connect to postgres", err, nil)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	appLogger.Info("Postgres connection pool initialized", nil)

	vehicleStorage := postgres_adapter.NewPostgresVehicleStorageAdapter(pool)
	partStorage := postgres_adapter.NewPostgresPartStorageAdapter(pool)
	relations := postgres_adapter.NewPostgresRelationsAdapter(pool)
	ledger := postgres_adapter.NewPostgresImportLedgerAdapter(pool)
	apiConfigStore := postgres_adapter.NewPostgresApiConfigAdapter(pool)
	scheduleStore := postgres_adapter.NewPostgresScheduleAdapter(pool)

	// --- 3. ВНЕШНИЙ ИСТОЧНИК И СОБЫТИЯ ---
	source, err := metasync.NewMetasyncAdapter(appConfig.Metasync.BaseURL, appConfig.Metasync.DomainGlob)
	if err != nil {
		appLogger.Error("Failed to create metasync adapter", err, nil)
		pool.Close()
		return nil, fmt.Errorf("failed to create metasync adapter: %w", err)
	}

	var eventsPublisher *rabbitmq_adapter.RunEventsPublisher
	var events port.RunEventsPublisherPort
	if appConfig.RabbitMQ.Enabled {
		publisherLogger := baseLogger.WithFields(port.Fields{"component": "run_events_publisher"})
		eventsPublisher, err = rabbitmq_adapter.NewRunEventsPublisher(appConfig.RabbitMQ.URL, publisherLogger)
		if err != nil {
			appLogger.Error("Failed to create run events publisher", err, nil)
			pool.Close()
			return nil, fmt.Errorf("failed to create run events publisher: %w", err)
		}
		events = eventsPublisher
		appLogger.Info("RabbitMQ run events publisher initialized", nil)
	}

	// --- 4. USE CASES ---
	walkOpts := usecase.DefaultWalkOptions()
	vehiclesUC := usecase.NewImportVehiclesUseCase(source, vehicleStorage, partStorage, ledger, apiConfigStore, events, walkOpts)
	partsUC := usecase.NewImportPartsUseCase(source, vehicleStorage, partStorage, ledger, apiConfigStore, events, walkOpts)
	allUC := usecase.NewImportAllUseCase(vehiclesUC, partsUC, relations, ledger, events, 0)
	dispatcher := usecase.NewImportDispatcher(vehiclesUC, partsUC, allUC)
	appLogger.Info("All use cases initialized", nil)

	var scheduler *usecase.SchedulerService
	if appConfig.Scheduler.Enabled {
		scheduler = usecase.NewSchedulerService(scheduleStore, ledger, dispatcher, baseLogger)
	}

	// --- 5. REST API ---
	importHandlers := rest.NewImportHandlers(dispatcher, ledger)
	configHandlers := rest.NewConfigHandlers(apiConfigStore, scheduleStore)
	apiServer := rest.NewServer(appConfig.HTTP.Port, importHandlers, configHandlers, baseLogger)

	return &App{
		config:          appConfig,
		apiServer:       apiServer,
		scheduler:       scheduler,
		pool:            pool,
		eventsPublisher: eventsPublisher,
		logger:          appLogger,
		baseLogger:      baseLogger,
		fluentClient:    fluentClient,
	}, nil
}

// Run запускает все компоненты приложения и управляет их жизненным циклом.
func (a *App) Run() error {
	appCtx, cancelApp := context.WithCancel(context.Background())

	defer func() {
		a.logger.Info("Shutdown sequence initiated...", nil)

		if a.apiServer != nil {
			if err := a.apiServer.Stop(context.Background()); err != nil {
				a.logger.Error("Error during API server shutdown", err, nil)
			}
		}

		if a.eventsPublisher != nil {
			if err := a.eventsPublisher.Close(); err != nil {
				a.logger.Error("Error closing run events publisher", err, nil)
			}
		}

		if a.pool != nil {
			a.pool.Close()
		}

		a.logger.Info("Application shut down gracefully.", nil)

		if a.fluentClient != nil {
			if err := a.fluentClient.Close(); err != nil {
				fmt.Printf("ERROR: Error closing fluent client: %v\n", err)
			}
		}
	}()

	a.logger.Info("Application is starting...", nil)

	if a.scheduler != nil {
		schedulerCtx := contextkeys.ContextWithLogger(appCtx, a.baseLogger)
		go a.scheduler.Run(schedulerCtx)
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server...", port.Fields{"port": a.config.HTTP.Port})
		if err := a.apiServer.Start(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	a.logger.Info("Application running. Waiting for signals or server error...", nil)
	select {
	case receivedSignal := <-quit:
		a.logger.Warn("Received OS signal, shutting down...", port.Fields{"signal": receivedSignal.String()})
	case <-appCtx.Done():
		a.logger.Warn("Context was cancelled unexpectedly, shutting down...", nil)
	case err := <-serverErrors:
		a.logger.Error("HTTP server failed to start, shutting down", err, nil)
	}

	cancelApp()

	return nil
}

func parseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		log.Printf("Warning: Unknown log level '%s'. Defaulting to 'info'.", levelStr)
		return slog.LevelInfo
	}
}
