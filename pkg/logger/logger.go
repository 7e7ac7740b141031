package logger

import (
	"go.uber.org/zap"
)

type Sugared = *zap.SugaredLogger

func New(env string) Sugared {
	var z *zap.Logger
	if env == "prod" {
		z, _ = zap.NewProduction()
	} else {
		z, _ = zap.NewDevelopment()
	}
	return z.Sugar().With("service", "wpmcp")
}

// Nop is used by tests and by constructors that receive a nil logger.
func Nop() Sugared { return zap.NewNop().Sugar() }

// OrNop returns log unless it is nil.
func OrNop(log Sugared) Sugared {
	if log == nil {
		return Nop()
	}
	return log
}
