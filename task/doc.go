/*
Package task submits jobs to the backend and follows them to a terminal outcome.

A Controller owns the tasks of one kind. Submit posts the job, then opens the task's stream and folds every
frame into a Snapshot:

	Idle -> Pending -> Streaming -> Complete
	                             -> Error      (error frame, or the stream closed early)
	        Pending/Streaming    -> Cancelled  (Cancel)

Only one task per kind is active. A new Submit or a Cancel abandons the current stream, and anything it
delivers afterwards is discarded.
*/
package task

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
	defaultLogger = logger.Sugar()
}
