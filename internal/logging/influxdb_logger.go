package logging

import (
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// influxDBLogger logs the output to an external InfluxDB instance.
type influxDBLogger struct {
	client      influxdb2.Client
	asyncWriter api.WriteAPI
}

func NewInfluxDBLogger(baseURL, authToken, org, bucket string) *influxDBLogger {
	options := influxdb2.DefaultOptions()
	options.WriteOptions().SetBatchSize(1000)
	options.WriteOptions().SetFlushInterval(250)

	client := influxdb2.NewClientWithOptions(baseURL, authToken, options)
	writeAPI := client.WriteAPI(org, bucket)

	// Create a goroutine for reading and logging async write errors.
	errorsCh := writeAPI.Errors()
	go func() {
		for err := range errorsCh {
			log.Printf("influxdb2 logging async write error: %v\n", err)
		}
	}()

	return &influxDBLogger{
		client:      client,
		asyncWriter: writeAPI,
	}
}

func (l *influxDBLogger) LogControlLoop(setpoint float64, measurement float64, command int32) {
	p := influxdb2.NewPointWithMeasurement("velocity_control_loop").
		AddField("setpoint", setpoint).
		AddField("measurement", measurement).
		AddField("command", command).
		SetTime(time.Now())
	l.asyncWriter.WritePoint(p)
}

func (l *influxDBLogger) LogPIDControllerState(p float64, i float64, d float64, errorTerm float64) {
	point := influxdb2.NewPointWithMeasurement("velocity_pid_controller_state").
		AddField("p", p).
		AddField("i", i).
		AddField("d", d).
		AddField("e_t", errorTerm).
		SetTime(time.Now())
	l.asyncWriter.WritePoint(point)
}

func (l *influxDBLogger) LogLoopTimes(p50 float64, p75 float64, p95 float64) {
	p := influxdb2.NewPointWithMeasurement("velocity_loop_time").
		AddField("p50", p50).
		AddField("p75", p75).
		AddField("p95", p95).
		SetTime(time.Now())
	l.asyncWriter.WritePoint(p)
}

func (l *influxDBLogger) LogTrackingError(mean float64, p95 float64) {
	p := influxdb2.NewPointWithMeasurement("velocity_tracking_error").
		AddField("mean", mean).
		AddField("p95", p95).
		SetTime(time.Now())
	l.asyncWriter.WritePoint(p)
}

// Close flushes pending points and releases the client.
func (l *influxDBLogger) Close() {
	l.asyncWriter.Flush()
	l.client.Close()
}
