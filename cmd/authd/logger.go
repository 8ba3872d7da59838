package main

import (
	"go.uber.org/zap"

	auth "github.com/cvbuilder/go-auth"
)

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// zapLogger adapts a zap logger to auth.Logger. Messages keep their
// trailing key/value pairs as structured fields.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

var _ auth.Logger = zapLogger{}

func newAuthLogger(logger *zap.Logger) zapLogger {
	return zapLogger{sugar: logger.Sugar()}
}

func (l zapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l zapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l zapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l zapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
