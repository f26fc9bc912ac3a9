package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler serves liveness and readiness probes.
type Handler struct {
	db      *gorm.DB
	service string
	started time.Time
}

// NewHandler creates a health handler bound to the service's database handle.
func NewHandler(db *gorm.DB, service string) *Handler {
	return &Handler{db: db, service: service, started: time.Now().UTC()}
}

// RegisterRoutes mounts the probe endpoints on the root router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Live)
	r.GET("/readyz", h.Ready)
}

// Live reports process liveness.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": h.service,
		"status":  "ok",
		"uptime":  time.Since(h.started).String(),
	})
}

// Ready reports readiness, including a database ping.
func (h *Handler) Ready(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"service": h.service,
			"status":  "unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"service": h.service,
		"status":  "ok",
	})
}
