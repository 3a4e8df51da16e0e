package telemetry

import (
	"context"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"canb0t/internal/canbus"
	"canb0t/internal/obd"
)

// Influx forwards decoded OBD-II readings to an InfluxDB bucket. Only the
// four polled channels are decoded; all other frames pass through
// untouched. Writes go through the async API so a slow or absent database
// never stalls the capture path.
type Influx struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPI
	measurement string
}

func NewInflux(url, token, org, bucket, measurement string) *Influx {
	if measurement == "" {
		measurement = "obd"
	}
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ok, err := client.Ping(ctx); err != nil || !ok {
		log.Printf("[telemetry] InfluxDB at %s not reachable (will buffer): %v", url, err)
	} else {
		log.Printf("[telemetry] InfluxDB at %s reachable", url)
	}

	writeAPI := client.WriteAPI(org, bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Printf("[telemetry] write error: %v", err)
		}
	}()

	return &Influx{
		client:      client,
		writeAPI:    writeAPI,
		measurement: measurement,
	}
}

// Observe implements logger.Observer.
func (t *Influx) Observe(f canbus.Frame) {
	v, ok := obd.DecodeFrame(f)
	if !ok {
		return
	}
	p := influxdb2.NewPointWithMeasurement(t.measurement).
		AddTag("channel", v.Name).
		AddTag("unit", v.Unit).
		AddField("value", v.Value).
		SetTime(time.Now())
	t.writeAPI.WritePoint(p)
}

func (t *Influx) Close() {
	t.writeAPI.Flush()
	t.client.Close()
}
