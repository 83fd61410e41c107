package logging

import (
	"io"
	"log"
	"os"
)

// stdoutLogger logs the output to standard output.
type stdoutLogger struct {
	logger *log.Logger
}

func NewStdoutLogger() *stdoutLogger {
	return newWriterLogger(os.Stdout)
}

func newWriterLogger(w io.Writer) *stdoutLogger {
	return &stdoutLogger{logger: log.New(w, "", log.LstdFlags)}
}

func (l *stdoutLogger) LogControlLoop(setpoint float64, measurement float64, command int32) {
	l.logger.Printf("setpoint: %.3f, measurement: %.3f, command: %d\n", setpoint, measurement, command)
}

func (l *stdoutLogger) LogPIDControllerState(p float64, i float64, d float64, errorTerm float64) {
	l.logger.Printf("p: %.3f, i: %.3f, d: %.3f, e(t): %.3f\n", p, i, d, errorTerm)
}

func (l *stdoutLogger) LogLoopTimes(p50 float64, p75 float64, p95 float64) {
	l.logger.Printf("loop time p50: %.6f, p75: %.6f, p95: %.6f\n", p50, p75, p95)
}

func (l *stdoutLogger) LogTrackingError(mean float64, p95 float64) {
	l.logger.Printf("tracking error mean: %.3f, p95: %.3f\n", mean, p95)
}
