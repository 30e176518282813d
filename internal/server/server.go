// Package server exposes the gateway over HTTP. Every data route is
// tenant-scoped through the X-Tenant header; routes under /api/backend
// and /api/migrate are operator routes and take no tenant.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/driver"
	"github.com/gestock/dbgate/internal/history"
	"github.com/gestock/dbgate/internal/logging"
	"github.com/gestock/dbgate/internal/migrate"
	"github.com/gestock/dbgate/internal/registry"
	"github.com/gestock/dbgate/internal/schema"
	"github.com/gestock/dbgate/internal/tenant"
	"github.com/gestock/dbgate/internal/version"
)

// TenantHeader carries the tenant schema identifier on data routes.
const TenantHeader = "X-Tenant"

const tenantKey = "tenant"

// Server wires the registry and the optional run journal into an HTTP
// handler.
type Server struct {
	reg    *registry.Registry
	hist   *history.Store
	engine *gin.Engine
}

// New builds the server. hist may be nil; migration runs are then only
// returned inline and not journaled.
func New(reg *registry.Registry, hist *history.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{reg: reg, hist: hist, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLog())
	s.routes()
	return s
}

// Handler returns the HTTP handler, for serving and for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.health)
	api.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": version.Name, "version": version.Version})
	})

	scoped := api.Group("", tenantRequired())
	scoped.POST("/rpc/:fn", s.rpc)
	scoped.POST("/sql", s.execSQL)

	api.GET("/discovery", s.listTenants)
	api.GET("/discovery/:tenant", s.discovery)
	api.GET("/backend", s.backend)
	api.POST("/backend/switch", s.switchBackend)
	api.POST("/migrate", s.migrateRun)
	api.GET("/history", s.listHistory)
	api.GET("/history/:run", s.historyEntries)
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

// tenantRequired resolves the X-Tenant header and rejects the request
// before any handler runs when it is missing or malformed.
func tenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := tenant.Resolve(c.GetHeader(TenantHeader))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errBody(err.Error()))
			return
		}
		c.Set(tenantKey, id)
		c.Next()
	}
}

func tenantOf(c *gin.Context) tenant.ID {
	return c.MustGet(tenantKey).(tenant.ID)
}

// dataBody mirrors the {data, error} envelope the RPC engine itself
// answers with, so clients see one shape regardless of backend.
func dataBody(rows driver.Rows) gin.H {
	if rows == nil {
		rows = driver.Rows{}
	}
	return gin.H{"data": rows, "error": nil}
}

func errBody(msg string) gin.H {
	return gin.H{"data": nil, "error": gin.H{"message": msg}}
}

// writeErr maps the gateway error taxonomy onto HTTP statuses. Engine
// messages pass through verbatim.
func writeErr(c *gin.Context, err error) {
	var qe *driver.QueryError
	var ue *driver.UnsupportedOpError
	var ce *driver.CrossTenantError
	switch {
	case errors.Is(err, tenant.ErrInvalid):
		c.JSON(http.StatusBadRequest, errBody(err.Error()))
	case errors.As(err, &ce):
		c.JSON(http.StatusForbidden, errBody(err.Error()))
	case errors.As(err, &ue):
		c.JSON(http.StatusNotImplemented, errBody(err.Error()))
	case driver.IsUnavailable(err):
		c.JSON(http.StatusServiceUnavailable, errBody(err.Error()))
	case errors.As(err, &qe):
		c.JSON(http.StatusBadRequest, errBody(qe.Message))
	default:
		c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.reg.Driver().Probe(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": s.reg.Active().Kind})
}

func (s *Server) rpc(c *gin.Context) {
	var params driver.Params
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			c.JSON(http.StatusBadRequest, errBody("invalid request body: "+err.Error()))
			return
		}
	}
	rows, err := s.reg.RPCByName(c.Request.Context(), tenantOf(c), c.Param("fn"), params)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, dataBody(rows))
}

func (s *Server) execSQL(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errBody("invalid request body: "+err.Error()))
		return
	}
	rows, err := s.reg.ExecSQL(c.Request.Context(), tenantOf(c), req.SQL)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, dataBody(rows))
}

func (s *Server) discovery(c *gin.Context) {
	id, err := tenant.Resolve(c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errBody(err.Error()))
		return
	}
	inv, err := schema.NewExplorer(s.reg.Driver()).Inventory(c.Request.Context(), id, schema.DefaultSampleLimit)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (s *Server) listTenants(c *gin.Context) {
	ids, err := schema.NewExplorer(s.reg.Driver()).ListTenants(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": ids})
}

func (s *Server) backend(c *gin.Context) {
	c.JSON(http.StatusOK, s.reg.Active().Redacted())
}

func (s *Server) switchBackend(c *gin.Context) {
	var cfg dbconfig.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, errBody("invalid request body: "+err.Error()))
		return
	}
	kind, err := dbconfig.ParseKind(string(cfg.Kind))
	if err != nil {
		c.JSON(http.StatusBadRequest, errBody(err.Error()))
		return
	}
	cfg.Kind = kind
	if err := s.reg.Switch(c.Request.Context(), cfg); err != nil {
		// The previous backend keeps serving; report why the candidate
		// was rejected, verbatim.
		c.JSON(http.StatusBadGateway, errBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"backend": s.reg.Active().Redacted()})
}

func (s *Server) migrateRun(c *gin.Context) {
	var job migrate.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, errBody("invalid request body: "+err.Error()))
		return
	}
	// An omitted source means migrating off the active backend.
	if job.Source.Kind == "" {
		job.Source = s.reg.Active()
	}
	log, err := migrate.Execute(c.Request.Context(), job, nil)
	if err != nil {
		writeErr(c, err)
		return
	}
	if s.hist != nil {
		if err := s.hist.RecordRun(c.Request.Context(), log); err != nil {
			logging.Error("record migration %s: %v", log.RunID, err)
		}
	}
	c.JSON(http.StatusOK, log)
}

func (s *Server) listHistory(c *gin.Context) {
	if s.hist == nil {
		c.JSON(http.StatusNotFound, errBody("history journal not configured"))
		return
	}
	runs, err := s.hist.ListRuns(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	if runs == nil {
		runs = []history.RunSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) historyEntries(c *gin.Context) {
	if s.hist == nil {
		c.JSON(http.StatusNotFound, errBody("history journal not configured"))
		return
	}
	runID := c.Param("run")
	entries, err := s.hist.RunEntries(c.Request.Context(), runID)
	if err != nil {
		writeErr(c, err)
		return
	}
	if len(entries) == 0 {
		// A run can legitimately have no entries; only report not-found
		// when the run itself was never recorded.
		ok, err := s.hist.RunExists(c.Request.Context(), runID)
		if err != nil {
			writeErr(c, err)
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, errBody("run not found: "+runID))
			return
		}
		entries = []migrate.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"runId": runID, "entries": entries})
}
