package httpapi

import (
	"github.com/gin-gonic/gin"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/masterctl/internal/httpapi/handlers"
	"github.com/yungbote/masterctl/internal/httpapi/middleware"
)

// RouterConfig wires the concrete handlers into the route table,
// grounded on the teacher's http.RouterConfig/NewRouter.
type RouterConfig struct {
	ServiceName      string
	HealthHandler    *handlers.HealthHandler
	OperationHandler *handlers.OperationHandler
	JournalHandler   *handlers.JournalHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	if cfg.OperationHandler != nil {
		r.POST("/operations", cfg.OperationHandler.Initiate)
		r.GET("/operations/:id", cfg.OperationHandler.GetStatus)
		r.POST("/operations/:id/cancel", cfg.OperationHandler.Cancel)
	}

	if cfg.JournalHandler != nil {
		r.GET("/journal", cfg.JournalHandler.List)
	}

	return r
}
