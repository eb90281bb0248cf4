package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/fieldsync/anchor/internal/config"
	"github.com/fieldsync/anchor/internal/database"
	"github.com/fieldsync/anchor/internal/influx"
	"github.com/fieldsync/anchor/internal/logging"
	intOtel "github.com/fieldsync/anchor/internal/otel"
	"github.com/fieldsync/anchor/internal/owner"
	"github.com/fieldsync/anchor/internal/prefs"
	"github.com/fieldsync/anchor/internal/storage"
)

// app holds every client a command may need. Clients are created in setup
// or on first use and released in close.
type app struct {
	configDir string
	ownerFlag string
	logLevel  string

	start   time.Time
	logs    *logging.SlogManager
	logger  *slog.Logger
	zlog    zerolog.Logger
	logFile *os.File
	otel    *intOtel.Provider

	owners *owner.Context
	prefs  *prefs.Store

	storageCfg config.StorageConfig
	db         *database.Manager
	store      storage.Gateway
	influx     *influx.Manager
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{start: time.Now()}

	root := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Log location anchors and resolve camera frames against them",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVarP(&a.configDir, "config", "c", ".", "Directory containing "+config.FileName)
	root.PersistentFlags().StringVar(&a.ownerFlag, "owner", "", "Owner to act as (overrides the config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (overrides the config)")

	root.AddCommand(
		a.captureCmd(),
		a.listCmd(),
		a.resolveCmd(),
		a.exportCmd(),
		a.watchCmd(),
		a.clearCmd(),
		a.prefixCmd(),
		a.serveCmd(),
	)
	return root, a
}

func (a *app) setup() error {
	a.logs = logging.NewSlogManager()
	a.logs.Setup(nil, "warn", nil)
	a.logger = a.logs.Logger()

	if err := config.Load(a.configDir); err != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", err)
	}
	if a.ownerFlag != "" {
		viper.Set("owner", a.ownerFlag)
	}
	if a.logLevel != "" {
		viper.Set("logLevel", a.logLevel)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	level := config.GetString("logLevel")

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}
	logPath := logging.LogFilePath(logsDir, AppName, a.start)
	if _, err := os.Stat(logPath); err == nil {
		_ = os.Rename(logPath, logPath+".old")
	}
	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	a.logFile = logFile

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		a.otel, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			a.logger.Error("Failed to initialize OTel provider", "error", err)
		}
	}

	graylogCfg := config.GetGraylogConfig()
	if graylogCfg.Enabled {
		w, err := logging.NewGraylogWriter(graylogCfg.Address, AppName)
		if err != nil {
			a.logger.Error("Failed to connect to Graylog", "error", err, "address", graylogCfg.Address)
		} else {
			a.logs.Graylog = w
		}
	}

	a.owners = owner.NewContext()
	a.owners.Set(config.GetString("owner"))
	a.storageCfg = config.GetStorageConfig()
	a.logs.Context = logging.SessionContext(a.owners.Get, a.storageCfg.Type)

	var otelLogProvider *sdklog.LoggerProvider
	if a.otel != nil {
		otelLogProvider = a.otel.LoggerProvider()
	}
	a.logs.Setup(logFile, level, otelLogProvider)
	a.logger = a.logs.Logger()
	a.logger.Info("Logging to file", "path", logPath, "version", Version)

	zlevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		zlevel = zerolog.InfoLevel
	}
	a.zlog = zerolog.New(logFile).Level(zlevel).With().Timestamp().Logger()

	a.prefs, err = prefs.Open(config.GetString("prefsPath"))
	if err != nil {
		return err
	}
	return nil
}

// openStore creates and initializes the configured anchor store once.
func (a *app) openStore() (storage.Gateway, error) {
	if a.store != nil {
		return a.store, nil
	}
	gw, err := a.createStorageBackend(a.storageCfg)
	if err != nil {
		a.logger.Error("Failed to create storage backend", "error", err)
		return nil, err
	}
	if err := gw.Init(); err != nil {
		a.logger.Error("Failed to initialize storage backend", "error", err)
		_ = gw.Close()
		return nil, err
	}
	a.store = gw
	return gw, nil
}

// openInflux returns the capture recorder, or nil when InfluxDB is disabled
// or unusable.
func (a *app) openInflux() *influx.Manager {
	if a.influx != nil {
		return a.influx
	}
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return nil
	}
	m := influx.NewManager(a.zlog, cfg.BackupPath)
	if err := m.Connect(); err != nil {
		a.logger.Warn("InfluxDB unavailable, capture telemetry disabled", "error", err)
		return nil
	}
	a.influx = m
	return m
}

// signedIn returns the current owner or an error explaining how to set one.
func (a *app) signedIn() (string, error) {
	id := a.owners.Get()
	if id == "" {
		return "", fmt.Errorf("no owner signed in: set \"owner\" in %s or pass --owner", config.FileName)
	}
	return id, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Failed to close storage backend", "error", err)
		}
		a.store = nil
	}
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			a.logger.Warn("Failed to close InfluxDB manager", "error", err)
		}
		a.influx = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.otel != nil {
		_ = a.otel.Shutdown(ctx)
		a.otel = nil
	}
	if a.logs != nil {
		_ = a.logs.Flush(ctx)
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}
