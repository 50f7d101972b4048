package handler

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"
)

// Job runs one pass of a scheduled job and returns its summary.
type Job func(ctx context.Context) (interface{}, error)

// TriggerJobHandler runs job synchronously for an external scheduler. An
// overlapping run answers 409 so the scheduler can tell it apart from a
// failure.
func TriggerJobHandler(name string, job Job) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.WithField("job", name)
		log.Info("Job triggered")

		result, err := job(r.Context())
		if err != nil {
			writeError(w, "Trigger "+name, err)
			return
		}
		log.Info("Job finished")
		writeJSON(w, http.StatusOK, result)
	}
}
