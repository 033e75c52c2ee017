package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/rollcall/internal/detector"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/storage"
)

type SystemHandler struct {
	db       *storage.PostgresStore
	photos   *storage.PhotoStore
	producer *queue.Producer
	det      *detector.Client
}

func NewSystemHandler(db *storage.PostgresStore, photos *storage.PhotoStore, producer *queue.Producer, det *detector.Client) *SystemHandler {
	return &SystemHandler{db: db, photos: photos, producer: producer, det: det}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	// Check Postgres
	if err := h.db.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	} else {
		checks["postgres"] = "ok"
	}

	// Check MinIO
	if err := h.photos.Ping(ctx); err != nil {
		checks["minio"] = err.Error()
		healthy = false
	} else {
		checks["minio"] = "ok"
	}

	// Check NATS
	if err := h.producer.Ping(); err != nil {
		checks["nats"] = err.Error()
		healthy = false
	} else {
		checks["nats"] = "ok"
	}

	// Check detector service; a deployment without one is still ready.
	if !h.det.Enabled() {
		checks["detector"] = "disabled"
	} else if err := h.det.Health(ctx); err != nil {
		checks["detector"] = err.Error()
		healthy = false
	} else {
		checks["detector"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}
