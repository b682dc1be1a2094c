package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/warden-dev/warden/internal/metrics"
	"github.com/warden-dev/warden/internal/service"
	"github.com/warden-dev/warden/internal/supervisor"
)

// Router exposes the control surface over HTTP. Endpoints:
//
//	POST   {basePath}/services              body: service.Spec JSON -> started record
//	GET    {basePath}/services              -> status list
//	GET    {basePath}/services/:id          -> single status
//	GET    {basePath}/services/:id/events   query: limit -> event log
//	DELETE {basePath}/services/:id          query: grace=5s -> stop
//	POST   {basePath}/services/:id/pin
//	POST   {basePath}/services/:id/unpin
//	DELETE {basePath}/services/:id/record   -> purge
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/services", r.handleStart)
	group.GET("/services", r.handleList)
	group.GET("/services/:id", r.handleStatus)
	group.GET("/services/:id/events", r.handleEvents)
	group.DELETE("/services/:id", r.handleStop)
	group.POST("/services/:id/pin", r.handlePin)
	group.POST("/services/:id/unpin", r.handleUnpin)
	group.DELETE("/services/:id/record", r.handlePurge)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) *http.Server {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStart(c *gin.Context) {
	var spec service.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error(), Kind: "invalid-arguments"})
		return
	}
	if err := spec.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error(), Kind: "invalid-arguments"})
		return
	}
	rec, err := r.sup.Start(c.Request.Context(), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (r *Router) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.List(c.Request.Context()))
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.sup.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleEvents(c *gin.Context) {
	limit := 0
	if q := c.Query("limit"); q != "" {
		limit, _ = strconv.Atoi(q)
	}
	evts, err := r.sup.Events(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, evts)
}

func (r *Router) handleStop(c *gin.Context) {
	grace := time.Duration(0)
	if q := c.Query("grace"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResp{Error: "invalid grace: " + err.Error(), Kind: "invalid-arguments"})
			return
		}
		grace = d
	}
	if err := r.sup.Stop(c.Request.Context(), c.Param("id"), grace); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handlePin(c *gin.Context) {
	if err := r.sup.Pin(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleUnpin(c *gin.Context) {
	if err := r.sup.Unpin(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handlePurge(c *gin.Context) {
	if err := r.sup.Purge(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

// writeError maps supervisor errors onto a small set of caller-facing kinds.
func writeError(c *gin.Context, err error) {
	var le *service.LaunchError
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error(), Kind: "not-found"})
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, errorResp{Error: err.Error(), Kind: "already-running"})
	case errors.Is(err, supervisor.ErrIDInUse):
		c.JSON(http.StatusConflict, errorResp{Error: err.Error(), Kind: "id-in-use"})
	case errors.Is(err, supervisor.ErrNotTerminal):
		c.JSON(http.StatusConflict, errorResp{Error: err.Error(), Kind: "not-terminal"})
	case errors.As(err, &le):
		c.JSON(http.StatusUnprocessableEntity, errorResp{Error: err.Error(), Kind: "launch-error"})
	case errors.Is(err, supervisor.ErrShutdownTimeout):
		c.JSON(http.StatusGatewayTimeout, errorResp{Error: err.Error(), Kind: "shutdown-timeout"})
	default:
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}
