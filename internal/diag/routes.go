package diag

import (
	"net/http"
	"time"

	"github.com/danmuck/weakreg/internal/identity"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.appeared).String(),
			"component": s.name,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"pending": s.col.Pending(),
			"tracked": s.col.Tracked(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/stats", func(c *gin.Context) {
		resp := gin.H{
			"stats":   s.reg.Stats(),
			"pending": s.col.Pending(),
			"tracked": s.col.Tracked(),
		}
		if c.Query("snapshot") == "true" {
			resp["snapshot"] = s.reg.Snapshot()
		}
		c.JSON(http.StatusOK, resp)
	})

	s.router.GET("/check", func(c *gin.Context) {
		if err := s.reg.Check(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"consistent": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"consistent": true})
	})

	s.router.POST("/collect", func(c *gin.Context) {
		delivered, err := s.col.Collect(c.Request.Context())
		resp := gin.H{"delivered": delivered, "stats": s.reg.Stats()}
		if err != nil {
			resp["warning"] = err.Error()
		}
		c.JSON(http.StatusOK, resp)
	})

	s.router.GET("/refcount/:id", func(c *gin.Context) {
		id, ok := identity.Parse(c.Param("id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity"})
			return
		}
		n, known := s.reg.RefcountID(id)
		if !known {
			c.JSON(http.StatusNotFound, gin.H{"target": id.String(), "known": false})
			return
		}
		handles := s.reg.HandlesOf(id)
		names := make([]string, 0, len(handles))
		for _, h := range handles {
			names = append(names, h.String())
		}
		c.JSON(http.StatusOK, gin.H{"target": id.String(), "known": true, "refcount": n, "handles": names})
	})

	s.router.GET("/handles/:id", func(c *gin.Context) {
		id, ok := identity.Parse(c.Param("id"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity"})
			return
		}
		target, bound := s.reg.TargetOf(id)
		if !bound {
			c.JSON(http.StatusNotFound, gin.H{"handle": id.String(), "bound": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"handle": id.String(), "bound": true, "target": target.String()})
	})
}
