package bootstrapping

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a configured zap logger based on the environment.
// Development loggers write to stderr so CLI output on stdout stays parseable.
func NewLogger(isProduction bool, debug bool) *zap.Logger {
	var config zap.Config
	if isProduction {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if !debug {
			config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		}
	}
	config.OutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		// Fallback to a basic logger if configuration fails
		logger, _ = zap.NewProduction()
	}
	return logger.With(zap.String("service", "docbridge"))
}
