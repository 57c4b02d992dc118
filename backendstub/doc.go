// Package backendstub is a fake inference backend serving the job API: submit, stop and per-task streams.
// What each stream sends is scripted per kind, which makes it suitable for tests and for trying out the
// client without the real backend.
package backendstub

import (
	"fmt"

	"go.uber.org/zap"
)

var defaultLogger *zap.SugaredLogger

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("error constructing default logger: %s", err))
	}
	defaultLogger = logger.Sugar().Named("backendstub")
}
