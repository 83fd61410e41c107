package logging

// Drivers selectable from configuration.
const (
	DriverNoop     = "noop"
	DriverStdout   = "stdout"
	DriverInfluxDB = "influxdb"
)

type Logger interface {
	LogControlLoop(setpoint float64, measurement float64, command int32)
	LogPIDControllerState(p float64, i float64, d float64, errorTerm float64)
	LogLoopTimes(p50 float64, p75 float64, p95 float64) // Takes in percentiles in seconds.
	LogTrackingError(mean float64, p95 float64)
}

// noopLogger does not perform any logging.
type noopLogger struct{}

func NewNoopLogger() *noopLogger {
	return &noopLogger{}
}

func (*noopLogger) LogControlLoop(float64, float64, int32) {
	return
}

func (*noopLogger) LogPIDControllerState(float64, float64, float64, float64) {
	return
}

func (*noopLogger) LogLoopTimes(float64, float64, float64) {
	return
}

func (*noopLogger) LogTrackingError(float64, float64) {
	return
}
