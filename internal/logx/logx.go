package logx

import "go.uber.org/zap"

// New builds the process-wide logger. JSON to stdout, service name on every line.
func New(service string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	log, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return log.With(zap.String("service", service))
}
