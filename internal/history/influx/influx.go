package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/loykin/lokivisor/internal/history"
)

const (
	measurement        = "lifecycle_event"
	defaultPingTimeout = 5 * time.Second
)

// Sink writes each event as a point in an InfluxDB v2 bucket.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// New connects to serverURL and verifies the server answers a ping.
func New(serverURL, token, org, bucket string) (*Sink, error) {
	if org == "" || bucket == "" {
		return nil, errors.New("influxdb sink requires org and bucket")
	}
	client := influxdb2.NewClient(serverURL, token)

	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, errors.New("influxdb server not healthy")
	}
	return &Sink{client: client, writeAPI: client.WriteAPIBlocking(org, bucket)}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	if err := s.writeAPI.WritePoint(ctx, toPoint(e)); err != nil {
		return fmt.Errorf("influxdb write: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

func toPoint(e history.Event) *write.Point {
	fields := map[string]interface{}{
		"pid":    int64(e.Record.PID),
		"status": e.Record.Status,
	}
	if e.Record.Error != "" {
		fields["error"] = e.Record.Error
	}
	return write.NewPoint(measurement,
		map[string]string{"event": string(e.Type), "name": e.Record.Name},
		fields,
		e.OccurredAt,
	)
}
