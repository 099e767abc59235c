package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/obloq-bridge/migrations"

	"github.com/nerrad567/obloq-bridge/internal/api"
	"github.com/nerrad567/obloq-bridge/internal/bridges/obloq"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/config"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/database"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/obloq-bridge/internal/journal"
)

// startupHealthTimeout bounds the infrastructure checks after start-up.
const startupHealthTimeout = 5 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Cancel on Ctrl+C and SIGTERM for graceful shutdown
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, opts)
		},
	}
}

// run is the service logic, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Root flags (config path)
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts *rootOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting obloqd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Frame journal (optional)
	var db *database.DB
	var repo *journal.SQLiteRepository
	var recorder *journal.Recorder
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database ready", "path", cfg.Database.Path)

		repo = journal.NewSQLiteRepository(db.DB)
		recorder = journal.NewRecorder(repo, journal.RecorderConfig{
			Retention: cfg.GetRetention(),
		})
		recorder.SetLogger(log)
		recorder.Start(ctx)
		defer func() {
			recorder.Close()
			log.Info("journal closed",
				"recorded", recorder.Recorded(),
				"dropped", recorder.Dropped(),
			)
		}()
		log.Info("frame journal started", "session_id", recorder.SessionID())
	} else {
		log.Info("frame journal disabled")
	}

	// Local MQTT bus (bridge only)
	var mqttClient *mqtt.Client
	if cfg.Bridge.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Serial link to the module
	transport, err := obloq.Dial(ctx, cfg.Serial.URL)
	if err != nil {
		return fmt.Errorf("opening serial link: %w", err)
	}
	conn := obloq.NewConnection(transport, connectionOptions(cfg, log))
	defer func() {
		log.Info("closing serial link")
		if closeErr := conn.Close(); closeErr != nil {
			log.Error("error closing serial link", "error", closeErr)
		}
	}()
	log.Info("serial link open", "url", cfg.Serial.URL)

	sinks := newMetricFanout(influxClient, recorder)

	var bridge *obloq.Bridge
	if cfg.Bridge.Enabled {
		bridge, err = startBridge(ctx, cfg, conn, mqttClient, sinks, recorder, log)
		if err != nil {
			return fmt.Errorf("starting bridge: %w", err)
		}
		defer func() {
			log.Info("stopping bridge")
			bridge.Stop()
		}()
	} else {
		if err := startLink(ctx, cfg, conn, sinks, recorder, log); err != nil {
			return fmt.Errorf("starting link: %w", err)
		}
		defer func() {
			if err := conn.Disconnect(context.Background()); err != nil {
				log.Warn("broker disconnect failed", "error", err)
			}
		}()
	}

	if influxClient != nil {
		go reportLink(ctx, conn, influxClient, cfg.GetHealthInterval())
	}

	// HTTP API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Link:    conn,
			Version: version,
		}
		if bridge != nil {
			deps.Bridge = bridge
		}
		if repo != nil {
			deps.Journal = repo
		}
		apiServer, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	// Verify infrastructure is healthy
	checkCtx, cancelCheck := context.WithTimeout(ctx, startupHealthTimeout)
	err = healthCheck(checkCtx, db, mqttClient, influxClient)
	cancelCheck()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if linkErr := conn.HealthCheck(ctx); linkErr != nil {
		log.Warn("cloud session not up yet, supervisor will retry", "error", linkErr)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API, bridge, serial link, InfluxDB, MQTT, journal, database

	log.Info("obloqd stopped")
	return nil
}

// openDatabase opens the journal database and applies migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// startBridge brings the module up and mirrors it onto the local bus.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	conn *obloq.Connection,
	mqttClient *mqtt.Client,
	sinks obloq.MetricWriter,
	recorder *journal.Recorder,
	log *logging.Logger,
) (*obloq.Bridge, error) {
	opts := obloq.BridgeOptions{
		Connection: conn,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Wifi: obloq.WifiCredentials{
			SSID:     cfg.Wifi.SSID,
			Password: cfg.Wifi.Password,
		},
		Account:        obloq.Credentials{User: cfg.AIO.User, Key: cfg.AIO.Key},
		Feeds:          cfg.Feeds,
		Host:           cfg.AIO.Host,
		HealthInterval: cfg.GetHealthInterval(),
		Version:        version,
		Metrics:        sinks,
		Logger:         log,
	}
	if recorder != nil {
		opts.Recorder = recorder
	}

	bridge, err := obloq.NewBridge(opts)
	if err != nil {
		return nil, err
	}
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return nil, err
	}
	log.Info("bridge started", "feeds", cfg.Feeds)
	return bridge, nil
}

// startLink brings the module up without a local bus: feed values only go
// to the journal and InfluxDB.
func startLink(
	ctx context.Context,
	cfg *config.Config,
	conn *obloq.Connection,
	sinks obloq.MetricWriter,
	recorder *journal.Recorder,
	log *logging.Logger,
) error {
	if recorder != nil {
		conn.SetFrameObserver(recorder.RecordFrame)
	}

	if cfg.Wifi.SSID != "" {
		if err := conn.ConnectWifi(ctx, cfg.Wifi.SSID, cfg.Wifi.Password); err != nil {
			return fmt.Errorf("wifi connect: %w", err)
		}
	}

	ok, err := conn.ConnectBroker(ctx, cfg.AIO.User, cfg.AIO.Key)
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	if !ok {
		log.Warn("cloud broker refused the session, will retry in background", "error", conn.LastError())
	}

	for _, feed := range cfg.Feeds {
		handler := func(payload string) {
			log.Info("feed value", "feed", feed, "value", payload)
			sinks.WriteFeedValue(feed, payload)
		}
		if _, err := conn.Subscribe(ctx, feed, handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", feed, err)
		}
	}
	return nil
}

// healthCheck verifies the local infrastructure is healthy.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// reportLink writes link counters to InfluxDB until ctx ends.
func reportLink(ctx context.Context, conn *obloq.Connection, sink pointWriter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sink.WritePoint(influxdb.MeasurementLink,
				map[string]string{"user": conn.User()},
				linkFields(conn.Stats()))
		}
	}
}
