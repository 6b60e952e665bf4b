// Package api exposes the PAM query core's four HTTP endpoints over
// gin-gonic/gin — the same HTTP stack the teacher uses for its own admin
// listener (pkg/tunnel/tunnel.go's startAdminServer: gin.Default(),
// gin.DebugPrintRouteFunc wired to the structured logger, JSON error
// bodies). Every request is logged once it has been handled, with its
// correlation id; a failed request is also logged with the session id.
// Every non-2xx response a handler writes has the body
// {"status":"error","message":"..."}.
package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mateusfdl/infisical/internal/collaborators"
	"github.com/mateusfdl/infisical/internal/errs"
	"github.com/mateusfdl/infisical/internal/metrics"
	"github.com/mateusfdl/infisical/internal/model"
	"github.com/mateusfdl/infisical/internal/pipeline"
	"github.com/mateusfdl/infisical/internal/pool"
	"github.com/mateusfdl/infisical/internal/registry"
	"github.com/mateusfdl/infisical/internal/resolver"
)

const correlationIDHeader = "X-Correlation-Id"

// API wires the Session Pipeline, Tunnel Registry, Direct Connection Pool,
// and session collaborator into the HTTP surface.
type API struct {
	pipeline *pipeline.Pipeline
	registry *registry.Registry
	pool     *pool.Pool
	sessions collaborators.SessionStore
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// New constructs an API.
func New(p *pipeline.Pipeline, reg *registry.Registry, pl *pool.Pool, sessions collaborators.SessionStore, m *metrics.Metrics, log zerolog.Logger) *API {
	return &API{
		pipeline: p,
		registry: reg,
		pool:     pl,
		sessions: sessions,
		metrics:  m,
		log:      log.With().Str("component", "api").Logger(),
		now:      time.Now,
	}
}

// Router builds the gin.Engine serving the four PAM session endpoints
// plus the Prometheus scrape endpoint.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	gin.DebugPrintRouteFunc = func(httpMethod, absolutePath, handlerName string, nuHandlers int) {
		a.log.Debug().Str("method", httpMethod).Str("path", absolutePath).Msg("endpoint registered")
	}
	r.Use(a.correlationMiddleware())

	sessions := r.Group("/api/v1/pam/sessions")
	sessions.POST("/:sessionId/connect", a.handleConnect)
	sessions.POST("/:sessionId/query", a.handleQuery)
	sessions.POST("/:sessionId/disconnect", a.handleDisconnect)
	sessions.GET("/connections/health", a.handleHealth)

	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	return r
}

// correlationMiddleware assigns a per-request correlation id (reusing an
// inbound header if present) for log/metric correlation only; it carries
// no authorization meaning.
func (a *API) correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("correlationId", id)
		c.Header(correlationIDHeader, id)

		start := a.now()
		c.Next()
		a.log.Info().
			Str("correlationId", id).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", a.now().Sub(start)).
			Msg("request handled")
	}
}

func correlationID(c *gin.Context) string {
	if v, ok := c.Get("correlationId"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// queryRequest is the body the query endpoint accepts.
type queryRequest struct {
	SQL    string        `json:"sql" binding:"required,min=1,max=100000"`
	Params []interface{} `json:"params"`
}

func (a *API) handleConnect(c *gin.Context) {
	sessionID := c.Param("sessionId")
	session, err := a.sessions.FindByID(c.Request.Context(), sessionID)
	if err != nil {
		a.respondError(c, sessionID, err)
		return
	}
	if session == nil {
		a.respondError(c, sessionID, errs.NotFound("Session not found"))
		return
	}
	if err := resolver.ValidateUsable(*session, a.now()); err != nil {
		a.respondError(c, sessionID, err)
		return
	}

	c.JSON(200, gin.H{"status": "ok", "message": "Session is usable"})
}

func (a *API) handleQuery(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.respondError(c, sessionID, errs.BadRequest(err))
		return
	}

	start := a.now()
	result, err := a.pipeline.ExecuteQuery(c.Request.Context(), pipeline.Request{
		SessionID: sessionID,
		SQL:       req.SQL,
		Params:    req.Params,
		Actor:     actorFromContext(c),
	})
	if err != nil {
		a.recordOutcome(err)
		a.respondError(c, sessionID, err)
		return
	}

	a.metrics.RecordQuery(metrics.OutcomeSuccess)
	c.JSON(200, gin.H{
		"fields":          result.Fields,
		"rows":            result.Rows,
		"rowCount":        result.RowCount,
		"executionTimeMs": a.now().Sub(start).Milliseconds(),
	})
}

func (a *API) handleDisconnect(c *gin.Context) {
	sessionID := c.Param("sessionId")
	// Session-scoped, not a global closeAll: see the registry teardown
	// decision recorded for the query-endpoint disconnect bug.
	a.registry.CloseOne(sessionID)
	a.pool.Close(sessionID)
	c.JSON(200, gin.H{"status": "ok", "message": "Session disconnected"})
}

func (a *API) handleHealth(c *gin.Context) {
	a.metrics.SetActiveTunnels(a.registry.Count())
	poolInfo := a.pool.Info()
	a.metrics.SetPooledConnections(len(poolInfo))

	c.JSON(200, gin.H{
		"status":             "ok",
		"activeConnections":  a.registry.Count(),
		"connectionPoolInfo": poolInfo,
	})
}

// recordOutcome labels the query-outcome metric by error kind.
func (a *API) recordOutcome(err error) {
	switch {
	case errors.Is(err, errs.ErrBadRequest):
		a.metrics.RecordQuery(metrics.OutcomeBadRequest)
	default:
		a.metrics.RecordQuery(metrics.OutcomeError)
	}
}

// respondError classifies err into an HTTP status and writes the uniform
// error body, logging with the correlation and session ids.
func (a *API) respondError(c *gin.Context, sessionID string, err error) {
	status := classify(err)
	a.log.Warn().
		Str("correlationId", correlationID(c)).
		Str("sessionId", sessionID).
		Err(err).
		Int("status", status).
		Msg("request failed")
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}

func classify(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return 404
	case errors.Is(err, errs.ErrSessionEnded), errors.Is(err, errs.ErrSessionExpired):
		return 409
	case errors.Is(err, errs.ErrGatewayUnavailable):
		return 502
	case errors.Is(err, errs.ErrBadRequest):
		return 400
	default:
		return 500
	}
}

// actorFromContext builds the Actor attributed to this HTTP request. The
// core exposes no authentication of its own; callers are expected to sit
// behind an authenticated edge that can later enrich this via middleware.
func actorFromContext(c *gin.Context) model.Actor {
	return model.Actor{ID: correlationID(c), Type: model.ActorService, Name: "pam-http-api"}
}
