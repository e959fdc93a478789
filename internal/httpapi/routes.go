package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"routeplan/pkg/authctx"
)

// requireRole aborts with 403 unless the authenticated caller's role is one
// of allowed. "any" skips the check — any authenticated caller qualifies.
func requireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authctx.FromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
			return
		}
		for _, role := range allowed {
			if role == "any" || claims.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "caller role not permitted for this operation"})
	}
}

// RegisterRoutes wires the engine's REST surface onto engine, grouped by the
// role permitted to call each endpoint.
func RegisterRoutes(engine *gin.Engine, h *Handler) {
	route := engine.Group("/route")
	{
		route.POST("/", requireRole("manager"), h.CreatePlan)
		route.POST("/assign/", requireRole("manager"), h.AssignManual)
		route.POST("/getByDriver/", requireRole("driver"), h.GetByDriver)
		route.POST("/finish/", requireRole("driver"), h.Finish)
		route.POST("/return/", requireRole("driver"), h.Return)
		route.POST("/recalculate/", requireRole("driver"), h.Recalculate)
		route.POST("/checkDriverStatus/", requireRole("any"), h.CheckDriverStatus)
		route.DELETE("/dropAll/", requireRole("admin"), h.DropAll)
		route.POST("/optimize-office/", requireRole("driver"), h.OptimizeOffice)
	}

	engine.POST("/packages_mark/", requireRole("driver"), h.MarkDelivered)
	engine.POST("/packages_mark_undelivered/", requireRole("driver"), h.MarkUndelivered)
	engine.POST("/office-delivery/", requireRole("driver"), h.OfficeDelivery)
	engine.GET("/history/", requireRole("manager"), h.History)
	engine.GET("/history/manifest/", requireRole("manager", "driver"), h.Manifest)
	engine.GET("/dashboard/", requireRole("manager"), h.Dashboard)
}
