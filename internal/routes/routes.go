package routes

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradeledger/internal/events"
	"tradeledger/internal/handlers"
	"tradeledger/internal/middleware"
)

// Options tune the router. Zero values fall back to the environment.
type Options struct {
	AllowedOrigins []string
	RateLimit      middleware.RateLimiterConfig
}

// AllowedOriginsFromEnv parses ALLOWED_ORIGINS, a comma-separated list.
func AllowedOriginsFromEnv() []string {
	var out []string
	for _, o := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// OriginChecker reports whether a browser origin may call the API. Requests
// without an Origin header are always allowed.
func OriginChecker(allowed []string) func(origin string) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(origin string) bool {
		return origin == "" || set[origin]
	}
}

func cors(allowed func(string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && allowed(origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// SetupRouter builds the ops API. hub may be nil when no websocket stream
// is served by this process.
func SetupRouter(h *handlers.Handlers, hub *events.Hub, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.Any("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if opts.AllowedOrigins == nil {
		opts.AllowedOrigins = AllowedOriginsFromEnv()
	}
	r.Use(cors(OriginChecker(opts.AllowedOrigins)))

	if hub != nil {
		r.GET("/ws/trades", hub.ServeWS)
	}

	if opts.RateLimit.RequestsPerSecond <= 0 {
		opts.RateLimit = middleware.RateLimiterConfig{RequestsPerSecond: 20, Burst: 40}
	}
	api := r.Group("/api/v1", middleware.RateLimiterMiddleware(opts.RateLimit))
	SetupTrackerRoutes(api, h)
	SetupAgentRoutes(api, h)
	api.GET("/trades/:tx_hash/status", h.GetTradeStatus)
	return r
}

// SetupTrackerRoutes sets up cursor and tracked address routes
func SetupTrackerRoutes(api *gin.RouterGroup, h *handlers.Handlers) {
	api.GET("/cursors", h.ListCursors)

	tracked := api.Group("/tracked-addresses")
	{
		tracked.GET("", h.ListTrackedAddresses)
		tracked.POST("", h.AddTrackedAddress)
		tracked.DELETE("/:chain/:address", h.RemoveTrackedAddress)
	}
}

// SetupAgentRoutes sets up per-agent ledger routes
func SetupAgentRoutes(api *gin.RouterGroup, h *handlers.Handlers) {
	agent := api.Group("/agents/:agent_id")
	{
		agent.GET("/stats", h.GetAgentStats)
		agent.GET("/lots", h.ListAgentLots)
		agent.GET("/closes", h.ListAgentCloses)
		agent.GET("/trades", h.ListAgentTrades)
	}
}
