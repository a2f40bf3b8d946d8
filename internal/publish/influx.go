package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/micro-ha/loqed-bridge/addon/internal/config"
)

const (
	influxPingTimeout   = 5 * time.Second
	influxBatchSize     = 50
	influxFlushInterval = 10_000

	measurementCapability   = "loqed_capability"
	measurementAvailability = "loqed_availability"
)

// InfluxTelemetry writes capability values as time series points through
// the non-blocking write API.
type InfluxTelemetry struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
}

// ConnectInflux pings the server and starts a batching writer.
func ConnectInflux(ctx context.Context, cfg config.InfluxDBConfig, logger *slog.Logger) (*InfluxTelemetry, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(influxBatchSize).
			SetFlushInterval(influxFlushInterval),
	)

	pingCtx, cancel := context.WithTimeout(ctx, influxPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influx ping: server not healthy")
	}

	t := &InfluxTelemetry{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger.With("component", "influx"),
	}
	// Close clears the write API's error channel field, so read it once here.
	errorsCh := t.writeAPI.Errors()
	go t.drainErrors(errorsCh)
	return t, nil
}

func (t *InfluxTelemetry) drainErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		t.logger.Warn("influx write failed", "error", err)
	}
}

func (t *InfluxTelemetry) PublishCapability(_ context.Context, deviceID string, capability string, value any) {
	field, ok := fieldValue(value)
	if !ok {
		return
	}
	t.writeAPI.WritePoint(write.NewPoint(
		measurementCapability,
		map[string]string{"device": deviceID, "capability": capability},
		map[string]any{"value": field},
		time.Now(),
	))
}

func (t *InfluxTelemetry) PublishAvailability(_ context.Context, deviceID string, available bool, _ string) {
	t.writeAPI.WritePoint(write.NewPoint(
		measurementAvailability,
		map[string]string{"device": deviceID},
		map[string]any{"available": available},
		time.Now(),
	))
}

// Flush sends buffered points.
func (t *InfluxTelemetry) Flush() {
	t.writeAPI.Flush()
}

func (t *InfluxTelemetry) Close() error {
	t.writeAPI.Flush()
	t.client.Close()
	return nil
}

// fieldValue maps capability values onto influx field types. Unset values
// are skipped.
func fieldValue(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case bool, string, float64, int64:
		return v, true
	case int:
		return int64(v), true
	case float32:
		return float64(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
