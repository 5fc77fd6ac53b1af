// Package api implements the HTTP surface of spec.md §4.3 and §6: the
// Chat Completions and Responses handlers, the models/health/metrics
// routes, and the bearer-auth middleware guarding them.
//
// Grounded on the teacher's cmd/server/main.go route-group wiring and
// internal/auth's APIKeyMiddleware for the auth boundary; the SSE
// header/flush idiom is adapted from internal/proxy/stream_helpers.go's
// streamToClient. Unlike the teacher, there is no package-level global for
// the store/queue/metrics registry: ServerContext bundles every
// collaborator a handler needs and is constructed once at startup (spec.md
// §9 "replace [global singletons] with a single process-wide ServerContext
// constructed at startup and passed by reference").
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/commands"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/config"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/queue"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/store"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/titling"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/upstream"
)

// chatClient is the narrow subset of *upstream.Client the handlers call,
// narrowed the same way internal/titling.chatClient is so tests can supply
// a fake without standing up real U2L crypto or HTTP plumbing.
type chatClient interface {
	ChatWithHistory(ctx context.Context, turns []model.Turn, onChunk upstream.OnChunk, opts upstream.ChatOptions) (*upstream.ChatResult, error)
}

// ServerContext bundles every collaborator a request handler needs,
// constructed once at process startup and passed by reference (spec.md
// §9). Test harnesses build their own with fakes in place of the real
// store/queue/upstream client.
type ServerContext struct {
	Config   *config.Config
	Store    *store.Store
	Queue    *queue.Queue
	Upstream chatClient
	Commands *commands.Registry
	TitleGen *titling.Generator
	Log      *logger.Logger
}

// NewRouter builds the gin.Engine exposing the routes of spec.md §6.
// sc.Config.GinMode ("release", "debug", "test") matches the teacher's
// GIN_MODE env knob.
func NewRouter(sc *ServerContext) *gin.Engine {
	gin.SetMode(sc.Config.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLoggingMiddleware(sc.Log))

	r.GET("/healthz", healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authorized := r.Group("/v1")
	authorized.Use(bearerAuthMiddleware(sc.Config.GatewayAPIKey))
	authorized.POST("/chat/completions", chatCompletionsHandler(sc))
	authorized.POST("/responses", responsesHandler(sc))
	authorized.GET("/models", modelsHandler(sc))

	return r
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
