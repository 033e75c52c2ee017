package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/rollcall/internal/api/handlers"
	"github.com/your-org/rollcall/internal/api/ws"
	"github.com/your-org/rollcall/internal/auth"
	"github.com/your-org/rollcall/internal/detector"
	"github.com/your-org/rollcall/internal/notify"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/storage"
)

type RouterConfig struct {
	APIKey       string
	DB           *storage.PostgresStore
	Photos       *storage.PhotoStore
	Producer     *queue.Producer
	Notifier     *notify.Notifier
	Hub          *ws.Hub
	Detector     *detector.Client
	EmbeddingDim int
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.Photos, cfg.Producer, cfg.Detector)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Students & registered faces
	studentH := handlers.NewStudentHandler(cfg.DB, cfg.Photos, cfg.Detector, cfg.EmbeddingDim)
	v1.POST("/students", studentH.Create)
	v1.GET("/students", studentH.List)
	v1.GET("/students/:id", studentH.Get)
	v1.DELETE("/students/:id", studentH.Delete)
	v1.POST("/students/:id/faces", studentH.RegisterFace)
	v1.GET("/students/:id/faces", studentH.ListFaces)
	v1.GET("/classes/:classId/roster", studentH.Roster)

	// Attendance sessions
	sessionH := handlers.NewSessionHandler(cfg.DB, cfg.Producer, cfg.Notifier, cfg.Detector)
	v1.POST("/attendance/sessions", sessionH.Create)
	v1.GET("/attendance/sessions/:id", sessionH.Get)
	v1.GET("/attendance/sessions/:id/wait", sessionH.Wait)

	// Attendance records
	recordH := handlers.NewRecordHandler(cfg.DB)
	v1.GET("/attendance/records", recordH.List)

	return r
}
