package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/superset_xblock/internal/task"
)

// Route patterns registered by the server.
const (
	XBlockStudentViewRoute    = "/courses/:course_id/xblock/:block_id"
	XBlockStudioViewRoute     = "/courses/:course_id/xblock/:block_id/studio"
	XBlockHandlerRoute        = "/courses/:course_id/xblock/:block_id/handler/:handler"
	InstructorDashboardsRoute = "/courses/:course_id/instructor/dashboards"
	InstructorGuestTokenRoute = InstructorGuestTokenPathPrefix + ":course_id"
	HealthRoute               = "/healthz"

	healthStatusOK          = "ok"
	supersetStatusUnknown   = "unknown"
	supersetStatusReachable = "reachable"
	supersetStatusDown      = "unreachable"
	jsonKeyStatus           = "status"
	jsonKeySuperset         = "superset"
	jsonKeyCheckedAt        = "superset_checked_at"
)

// SupersetStatusReporter exposes the latest Superset reachability check.
type SupersetStatusReporter interface {
	Status() task.ProbeStatus
}

// NewHealthHandler reports liveness. The server stays live while Superset is
// down, so the Superset state is informational only.
func NewHealthHandler(reporter SupersetStatusReporter) gin.HandlerFunc {
	return func(context *gin.Context) {
		payload := gin.H{jsonKeyStatus: healthStatusOK}
		if reporter == nil {
			context.JSON(http.StatusOK, payload)
			return
		}
		status := reporter.Status()
		switch {
		case !status.Checked:
			payload[jsonKeySuperset] = supersetStatusUnknown
		case status.Reachable:
			payload[jsonKeySuperset] = supersetStatusReachable
		default:
			payload[jsonKeySuperset] = supersetStatusDown
		}
		if status.Checked {
			payload[jsonKeyCheckedAt] = status.CheckedAt.Format(time.RFC3339)
		}
		context.JSON(http.StatusOK, payload)
	}
}
