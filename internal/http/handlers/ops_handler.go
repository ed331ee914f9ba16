// Operational trigger handlers.
//
// POST /ops/{task} kicks an immediate run of a pipeline task instead of
// waiting out its interval. The run happens asynchronously on the task's own
// goroutine; the response only acknowledges the trigger.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mfarhanz/go-attendance-core/internal/services"
)

// TriggerTask handles POST /ops/{task} for task in
// {poll, fold, gap-scan, sweep, validate}.
func (h *Handlers) TriggerTask(c *gin.Context) {
	name := c.Param("task")
	if err := h.Runner.Trigger(name); err != nil {
		if errors.Is(err, services.ErrUnknownTask) {
			fail(c, http.StatusNotFound, ErrCodeUnknownTask, "unknown task: "+name)
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not trigger task")
		return
	}
	ok(c, http.StatusAccepted, gin.H{"task": name, "triggered": true})
}
