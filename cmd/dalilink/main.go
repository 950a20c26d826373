// DALI Link - BLE lighting gateway controller
//
// This is the main entry point for the DALI Link controller. It drives
// BLE-attached DALI gateways from a JSON device directory, mirrors
// lighting circuits onto a GPIO relay board, and exposes state and
// command topics over MQTT. Designed to run unattended on small ARM
// hosts (Raspberry Pi Zero 2 upwards) with graceful degradation to
// simulation mode when no Bluetooth adapter is present.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/brightline-controls/dalilink/internal/ble"
	"github.com/brightline-controls/dalilink/internal/directory"
	"github.com/brightline-controls/dalilink/internal/history"
	"github.com/brightline-controls/dalilink/internal/hostprofile"
	"github.com/brightline-controls/dalilink/internal/infrastructure/config"
	"github.com/brightline-controls/dalilink/internal/infrastructure/database"
	"github.com/brightline-controls/dalilink/internal/infrastructure/influxdb"
	"github.com/brightline-controls/dalilink/internal/infrastructure/logging"
	"github.com/brightline-controls/dalilink/internal/infrastructure/mqtt"
	"github.com/brightline-controls/dalilink/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting DALI Link",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Re-create logger with configured settings
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	// Command history database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("database close failed", "error", err)
		}
	}()

	if err := db.Migrate(ctx, history.Migrations()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())

	// Device directory, with background reload when the file changes.
	// Directory problems never abort startup; Open falls back to the
	// default document and the controller runs with that.
	dir := directory.Open(cfg.Directory.Path, log)
	startDirectoryReload(ctx, dir, cfg.ReloadPoll(), log)

	profile := hostprofile.Detect()
	log.Info("host profile detected",
		"tier", profile.Tier.String(),
		"memory_mb", profile.MemoryMB,
		"board", profile.BoardModel,
	)

	transport := buildTransport(cfg, log)
	board := buildRelayBoard(cfg, log)
	defer func() {
		board.AllOff()
		if err := board.Close(); err != nil {
			log.Warn("relay board close failed", "error", err)
		}
	}()

	// Asynchronous history writer keeps disk I/O off the command path
	store := history.NewStore(db)
	writer := history.NewWriter(store)
	writer.SetLogger(log)
	writer.Start()
	defer writer.Stop()

	// MQTT (optional). The broker LWT marks us offline if we die
	// unannounced; Close publishes a clean offline status.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT broker: %w", err)
		}
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected", "broker", cfg.MQTT.Broker.Host)
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		defer func() {
			if err := mqttClient.Close(); err != nil {
				log.Warn("MQTT close failed", "error", err)
			}
		}()
	} else {
		log.Info("MQTT disabled, running standalone")
	}

	// InfluxDB telemetry (optional, non-fatal). Lighting still works
	// without it.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			log.Warn("InfluxDB unavailable, telemetry disabled", "error", err)
		} else {
			influxClient.SetOnError(func(err error) {
				log.Warn("InfluxDB write error", "error", err)
			})
			defer func() {
				if err := influxClient.Close(); err != nil {
					log.Warn("InfluxDB close failed", "error", err)
				}
			}()
		}
	}

	recorder := &commandRecorder{writer: writer, influx: influxClient}

	controller := ble.NewController(ble.ControllerConfig{
		Transport:         transport,
		Directory:         dir,
		Profile:           profile,
		CommandInterval:   cfg.CommandInterval(),
		ConnectTimeout:    cfg.ConnectTimeout(),
		ScanTimeout:       cfg.ScanDuration(),
		IdleEviction:      cfg.IdleEviction(),
		SweepInterval:     cfg.SweepInterval(),
		FailureEscalation: cfg.BLE.FailureEscalation,
		ReportInterval:    cfg.ReportInterval(),
		Relays:            board,
		History:           recorder,
	})
	controller.SetLogger(log)
	if influxClient != nil {
		controller.Monitor().SetTelemetrySink(influxClient)
	}

	if mqttClient != nil {
		reporter := ble.NewReporter(ble.ReporterConfig{
			Controller: controller,
			Publisher:  mqttClient,
			Version:    version,
			QoS:        byte(cfg.MQTT.QoS),
		})
		reporter.SetLogger(log)
		controller.SetStatePublisher(reporter)
		reporter.Start(ctx)
		defer reporter.Stop()

		if err := subscribeCommands(ctx, mqttClient, controller, byte(cfg.MQTT.QoS), log); err != nil {
			return fmt.Errorf("subscribing to command topics: %w", err)
		}
	}

	controller.Start(ctx)
	defer controller.Stop()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		log.Warn("startup health check reported issues", "error", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, stopping")

	return nil
}

// getConfigPath returns the configuration file path, honouring the
// DALILINK_CONFIG environment variable when set.
func getConfigPath() string {
	if path := os.Getenv("DALILINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildTransport selects the BLE transport. Simulation (a nil
// transport) is used when forced by config or when no adapter can be
// initialised, so the service stays up on hosts without Bluetooth.
func buildTransport(cfg *config.Config, log *logging.Logger) ble.Transport {
	if cfg.BLE.ForceSimulation {
		log.Info("simulation mode forced by configuration")
		return nil
	}
	adapter, err := ble.NewAdapter()
	if err != nil {
		log.Warn("bluetooth adapter unavailable, running simulated", "error", err)
		return nil
	}
	return adapter
}

// buildRelayBoard opens the GPIO relay board, or an in-memory board
// when relays are disabled in config.
func buildRelayBoard(cfg *config.Config, log *logging.Logger) *relay.Board {
	var board *relay.Board
	if cfg.Relay.Enabled {
		board = relay.NewBoard(cfg.Relay.Chip)
		log.Info("relay board enabled", "chip", cfg.Relay.Chip)
	} else {
		board = relay.NewSimBoard()
		log.Info("relay board disabled, using in-memory state")
	}
	board.SetLogger(log)
	return board
}

// startDirectoryReload polls the directory file and reloads it when
// its modification time changes. A zero or negative interval disables
// polling.
func startDirectoryReload(ctx context.Context, dir *directory.Directory, interval time.Duration, log *logging.Logger) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				changed, err := dir.ReloadIfChanged()
				if err != nil {
					log.Warn("directory reload failed", "error", err)
					continue
				}
				if changed {
					log.Info("device directory reloaded",
						"devices", len(dir.DeviceMap()),
						"groups", len(dir.GroupIDs()),
					)
				}
			}
		}
	}()
}

// brightnessCommand is the JSON payload accepted on command topics.
// A bare integer payload is also accepted for hand-driven testing
// with mosquitto_pub.
type brightnessCommand struct {
	Brightness *int `json:"brightness"`
}

// parseBrightness extracts the requested brightness percentage from a
// command payload.
//
// Returns:
//   - int: Brightness percentage, 0-100
//   - error: Parse failure or missing/out-of-range value
func parseBrightness(payload []byte) (int, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return 0, fmt.Errorf("empty payload")
	}

	var percent int
	if trimmed[0] == '{' {
		var cmd brightnessCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return 0, fmt.Errorf("parsing command payload: %w", err)
		}
		if cmd.Brightness == nil {
			return 0, fmt.Errorf("payload missing brightness field")
		}
		percent = *cmd.Brightness
	} else {
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, fmt.Errorf("parsing brightness value: %w", err)
		}
		percent = n
	}

	if percent < 0 || percent > 100 {
		return 0, fmt.Errorf("brightness %d out of range 0-100", percent)
	}
	return percent, nil
}

// lastSegment returns the final element of a slash-separated topic,
// which carries the device or group id on command topics.
func lastSegment(topic string) string {
	if idx := strings.LastIndexByte(topic, '/'); idx >= 0 {
		return topic[idx+1:]
	}
	return topic
}

// subscribeCommands wires the MQTT command topics to the controller.
// Device commands accept both directory ids (DALLA1) and composite
// circuit ids (G1-A); group commands fan out to every member.
func subscribeCommands(ctx context.Context, client *mqtt.Client, controller *ble.Controller, qos byte, log *logging.Logger) error {
	topics := mqtt.Topics{}

	deviceHandler := func(topic string, payload []byte) error {
		id := lastSegment(topic)
		percent, err := parseBrightness(payload)
		if err != nil {
			log.Warn("rejected device command", "topic", topic, "error", err)
			return nil
		}
		if resolved, ok := ble.DeviceIDForComposite(id); ok {
			id = resolved
		}
		if !controller.SetBrightness(ctx, id, percent) {
			log.Warn("device command failed", "device_id", id, "percent", percent)
		}
		return nil
	}

	groupHandler := func(topic string, payload []byte) error {
		id := lastSegment(topic)
		percent, err := parseBrightness(payload)
		if err != nil {
			log.Warn("rejected group command", "topic", topic, "error", err)
			return nil
		}
		result := controller.SetGroupBrightness(ctx, id, percent)
		if !result.Success {
			log.Warn("group command incomplete",
				"group_id", id,
				"percent", percent,
				"failed", strings.Join(result.Failed, ","),
			)
		}
		return nil
	}

	if err := client.Subscribe(topics.AllDeviceCommands(), qos, deviceHandler); err != nil {
		return err
	}
	return client.Subscribe(topics.AllGroupCommands(), qos, groupHandler)
}

// healthCheck verifies connectivity to the infrastructure services
// after startup. Failures are reported but never abort startup; the
// controller degrades rather than refusing to run.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(checkCtx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(checkCtx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// commandRecorder fans command outcomes out to the history database
// and, when enabled, InfluxDB.
type commandRecorder struct {
	writer *history.Writer
	influx *influxdb.Client
}

// RecordCommand implements ble.HistoryRecorder.
func (r *commandRecorder) RecordCommand(rec ble.CommandRecord) {
	r.writer.Record(history.Entry{
		ID:        rec.ID,
		DeviceID:  rec.DeviceID,
		GroupID:   rec.GroupID,
		Address:   rec.Address,
		Driver:    rec.Driver,
		Percent:   rec.Percent,
		Success:   rec.Success,
		Simulated: rec.Simulated,
		Latency:   rec.Latency,
		CreatedAt: rec.Timestamp,
	})
	if r.influx != nil {
		r.influx.WriteCommandOutcome(rec.DeviceID, rec.GroupID, rec.Percent, rec.Success, rec.Simulated, rec.Latency)
	}
}
