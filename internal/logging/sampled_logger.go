package logging

// sampledLogger forwards one in every n control loop iterations to the
// wrapped logger, keeping high frequency loops from flooding the output.
// Aggregate reports are always forwarded.
type sampledLogger struct {
	logger Logger
	every  int
	count  int
	// sampled is set while the current iteration is being forwarded, so that
	// the PID state logged alongside it is forwarded too.
	sampled bool
}

func NewSampledLogger(logger Logger, every int) Logger {
	if every <= 1 {
		return logger
	}
	return &sampledLogger{logger: logger, every: every}
}

func (l *sampledLogger) LogControlLoop(setpoint float64, measurement float64, command int32) {
	l.sampled = l.count%l.every == 0
	l.count++
	if l.sampled {
		l.logger.LogControlLoop(setpoint, measurement, command)
	}
}

func (l *sampledLogger) LogPIDControllerState(p float64, i float64, d float64, errorTerm float64) {
	if l.sampled {
		l.logger.LogPIDControllerState(p, i, d, errorTerm)
	}
}

func (l *sampledLogger) LogLoopTimes(p50 float64, p75 float64, p95 float64) {
	l.logger.LogLoopTimes(p50, p75, p95)
}

func (l *sampledLogger) LogTrackingError(mean float64, p95 float64) {
	l.logger.LogTrackingError(mean, p95)
}
