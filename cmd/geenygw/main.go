// Geeny Gateway - BLE to cloud broker bridge
//
// This is the main entry point for the gateway. It scans for nearby BLE
// things, registers native things with the cloud and bridges their
// characteristics to per-thing MQTT sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/geeny-gateway/migrations"

	"github.com/nerrad567/geeny-gateway/internal/api"
	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/ble/goble"
	"github.com/nerrad567/geeny-gateway/internal/cloud"
	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/gateway"
	"github.com/nerrad567/geeny-gateway/internal/infrastructure/config"
	"github.com/nerrad567/geeny-gateway/internal/infrastructure/database"
	"github.com/nerrad567/geeny-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/geeny-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/geeny-gateway/internal/metrics"
	"github.com/nerrad567/geeny-gateway/internal/thing"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Geeny Gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version).With("gateway_id", cfg.Gateway.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Registration cache
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading registration cache: %w", refreshErr)
	}
	log.Info("registration cache loaded", "things", len(registry.List()))

	collector := metrics.New()

	influxClient, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	// Radio
	loop := ble.NewLoop()
	loop.SetLogger(log.Component("ble"))
	go loop.Run(ctx)
	defer loop.Close()

	radio, err := openRadio(cfg, loop, log.Component("goble"))
	if err != nil {
		return fmt.Errorf("opening radio: %w", err)
	}
	defer func() {
		if closeErr := radio.Close(); closeErr != nil {
			log.Error("error closing radio", "error", closeErr)
		}
	}()

	observers := ble.MultiObserver{collector}
	if influxClient != nil {
		observers = append(observers, influxClient)
	}
	scheduler, err := ble.NewScheduler(ble.Options{
		Radio:    radio,
		Executor: loop,
		Logger:   log.Component("ble"),
		Observer: observers,
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	// Cloud
	cloudLog := log.Component("cloud")
	cloudClient, err := cloud.NewClient(cfg.Cloud, cloudLog)
	if err != nil {
		return fmt.Errorf("creating cloud client: %w", err)
	}
	tokens := cloud.NewTokenManager(cloudClient, cfg.Cloud.Auth.TokenFile, cloudLog)
	certs := cloud.NewCertificateStore(cfg.Certificates.Dir, registry)
	registrar := cloud.NewRegistrar(cloud.RegistrarOptions{
		Registry:     registry,
		Tokens:       tokens,
		Creator:      cloud.NewCreator(cloudClient),
		Certificates: certs,
		Logger:       cloudLog,
		Types:        cfg.Cloud.Types,
	})
	if seedErr := registrar.SeedTypes(ctx); seedErr != nil {
		return fmt.Errorf("seeding type mappings: %w", seedErr)
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	recorders := thing.MultiRecorder{collector, hub}
	if influxClient != nil {
		recorders = append(recorders, influxClient)
	}

	gw := gateway.New(gateway.Options{
		Radio:      gateway.NewSchedulerRadio(scheduler),
		Registrar:  registrar,
		Session:    tokens,
		Connectors: gateway.NewMQTTConnectorFactory(cfg.MQTT, certs, log.Component("mqtt")),
		Logger:     log.Component("gateway"),
		Recorder:   recorders,
		OnScan: func(things []device.Info) {
			collector.ScanFinished(things)
			hub.ScanFinished(things)
			influxClient.ScanFinished(things)
		},
	})
	defer func() {
		log.Info("closing things")
		gw.Close()
	}()

	autoLogin(ctx, cfg.Cloud.Auth, gw, log)

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log.Component("api"),
		Gateway:     gw,
		Hub:         hub,
		Metrics:     collector,
		DB:          db.DB,
		ScanTimeout: cfg.GetScanTimeout(),
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"radio", radio.State().String(),
		"registered", len(gw.RegisteredThings()),
		"logged_in", gw.IsLoggedIn(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// connectInflux connects to InfluxDB when it is enabled. A disabled
// InfluxDB yields a nil client.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// openRadio opens the HCI controller, or a radio that reports
// unsupported when BLE is disabled.
func openRadio(cfg *config.Config, exec ble.Executor, log *logging.Logger) (*goble.Radio, error) {
	opts := goble.Options{
		HCIIndex:       cfg.BLE.HCIDevice,
		ConnectTimeout: cfg.GetConnectTimeout(),
		Executor:       exec,
		Logger:         log,
	}
	if !cfg.BLE.Enabled {
		log.Warn("BLE disabled, scans and connects will fail")
		return goble.Disabled(opts)
	}
	return goble.Open(opts)
}

// autoLogin opens a cloud session with configured credentials when no
// session token was restored. Failure leaves the gateway logged out.
func autoLogin(ctx context.Context, auth config.CloudAuthConfig, gw *gateway.Gateway, log *logging.Logger) {
	if gw.IsLoggedIn() || auth.Username == "" || auth.Password == "" {
		return
	}
	if err := gw.Login(ctx, auth.Username, auth.Password); err != nil {
		log.Warn("cloud login with configured credentials failed", "error", err)
		return
	}
	log.Info("logged in to cloud", "username", auth.Username)
}

// healthCheck verifies the infrastructure is healthy. influxClient may be
// nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
