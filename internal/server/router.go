package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/lokivisor/internal/auth"
	mng "github.com/loykin/lokivisor/internal/manager"
	"github.com/loykin/lokivisor/internal/process"
)

// Lifecycle is the part of the manager the HTTP API drives.
type Lifecycle interface {
	Start() error
	Stop() error
	ForceStop() error
	ManagedStop() error
	Status() process.Status
	Describe() mng.Snapshot
}

// Router provides embeddable HTTP handlers for the supervised process.
// Endpoints:
//
//	POST {basePath}/start
//	POST {basePath}/stop
//	POST {basePath}/kill
//	POST {basePath}/managed-stop   202, escalation runs in the background
//	GET  {basePath}/status         {"status":"running"}
//	GET  {basePath}/debug/process  operator snapshot including pid
//	POST {basePath}/auth/login     only with WithAuth; basic credentials in, bearer token out
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      Lifecycle
	basePath string
	logger   *slog.Logger
	auth     *auth.Middleware
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/start, /abc/stop, /abc/status.
func NewRouter(mgr Lifecycle, basePath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath), logger: logger.With("component", "http")}
}

// WithAuth requires authentication on every endpoint. Status endpoints need
// the read permission, lifecycle operations the write permission.
func (r *Router) WithAuth(m *auth.Middleware) *Router {
	r.auth = m
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	group := g.Group(r.basePath)
	if r.auth != nil {
		group.POST("/auth/login", r.auth.Login)
	}
	read, write := r.guard(auth.ActionRead), r.guard(auth.ActionWrite)
	group.POST("/start", write, r.handleStart)
	group.POST("/stop", write, r.handleStop)
	group.POST("/kill", write, r.handleKill)
	group.POST("/managed-stop", write, r.handleManagedStop)
	group.GET("/status", read, r.handleStatus)
	group.GET("/debug/process", read, r.handleDebugProcess)
	return g
}

func (r *Router) guard(action string) gin.HandlerFunc {
	if r.auth == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return r.auth.Require(action)
}

// NewServer returns an http.Server for addr using r. The caller runs
// Serve and Shutdown.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK     bool           `json:"ok"`
	Status process.Status `json:"status"`
}

type statusResp struct {
	Status process.Status `json:"status"`
}

func (r *Router) handleStart(c *gin.Context) {
	r.runOp(c, "start", r.mgr.Start, http.StatusOK)
}

func (r *Router) handleStop(c *gin.Context) {
	r.runOp(c, "stop", r.mgr.Stop, http.StatusOK)
}

func (r *Router) handleKill(c *gin.Context) {
	r.runOp(c, "kill", r.mgr.ForceStop, http.StatusOK)
}

func (r *Router) handleManagedStop(c *gin.Context) {
	r.runOp(c, "managed-stop", r.mgr.ManagedStop, http.StatusAccepted)
}

func (r *Router) runOp(c *gin.Context, name string, op func() error, okCode int) {
	if err := op(); err != nil {
		code := statusCodeFor(err)
		if code >= http.StatusInternalServerError {
			r.logger.Error("operation failed", "op", name, "error", err)
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, okCode, okResp{OK: true, Status: r.mgr.Status()})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{Status: r.mgr.Status()})
}

func (r *Router) handleDebugProcess(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Describe())
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
