// Package api implements the HTTP surface for automations: create,
// queue_list, get (serialize), and delete, wired onto the model package's
// persistence operations.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/webrecorder/autocontroller/internal/model"
	"github.com/webrecorder/autocontroller/internal/replay"
	"github.com/webrecorder/autocontroller/internal/store"
)

// Server wires the API routes onto a store, the recording proxy client, and
// an admin token.
type Server struct {
	db         store.Store
	warc       *replay.Client
	adminToken string
}

// New constructs an API server. An empty adminToken disables admin
// authorization checks (local development). warc may be nil only when no
// automation will ever have a recording attached, as in tests.
func New(db store.Store, warc *replay.Client, adminToken string) *Server {
	return &Server{db: db, warc: warc, adminToken: adminToken}
}

// Handler returns the gin engine exposing /api/v1/auto routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	g := r.Group("/api/v1/auto")
	g.POST("", s.create)
	g.POST("/:aid/queue_list", s.queueList)
	g.GET("/:aid", s.adminOnly(), s.get)
	g.DELETE("/:aid", s.adminOnly(), s.delete)

	return r
}

// adminOnly enforces the X-Admin-Token header on the get and delete routes
// when an admin token is configured.
func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminToken == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-Admin-Token") != s.adminToken {
			c.JSON(http.StatusForbidden, gin.H{"error_message": "admin token required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

type createRequest struct {
	Hops        *int     `json:"hops"`
	NumTabs     *int     `json:"num_tabs"`
	MaxBrowsers *int     `json:"max_browsers"`
	Scopes      []string `json:"scopes"`
	BrowserTag  string   `json:"browser_tag"`
	RequestTS   string   `json:"request_ts"`
}

// create implements POST /api/v1/auto. The owning collection and user come
// from the ?user=&coll= query selectors.
func (s *Server) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_message": err.Error()})
		return
	}

	userName := c.Query("user")
	collectionName := c.Query("coll")
	if userName == "" || collectionName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error_message": "user and coll query parameters are required"})
		return
	}

	props := model.CreateProps{
		Hops:        req.Hops,
		NumTabs:     req.NumTabs,
		MaxBrowsers: req.MaxBrowsers,
		Scopes:      req.Scopes,
		BrowserTag:  req.BrowserTag,
		RequestTS:   req.RequestTS,
	}

	a, err := model.Create(c.Request.Context(), s.db, collectionName, userName, collectionName, props)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"auto": a.AutoID})
}

type queueListRequest struct {
	List []string `json:"list"`
}

// queueList implements POST /api/v1/auto/<aid>/queue_list. The list key
// carries the bookmark URLs inline; no separate bookmark-list store exists
// behind this service.
func (s *Server) queueList(c *gin.Context) {
	aid := c.Param("aid")

	var req queueListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error_message": err.Error()})
		return
	}
	if len(req.List) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error_message": "list must be a non-empty array of urls"})
		return
	}

	if err := model.QueueList(c.Request.Context(), s.db, s.warc, aid, req.List); err != nil {
		status, msg := errStatus(err)
		c.JSON(status, gin.H{"error_message": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// get implements GET /api/v1/auto/<aid>, returning the serialized
// automation with its live browser/tab snapshot and queue contents.
func (s *Server) get(c *gin.Context) {
	aid := c.Param("aid")
	ctx := c.Request.Context()

	a, err := model.Load(ctx, s.db, aid)
	if err != nil {
		status, msg := errStatus(err)
		c.JSON(status, gin.H{"error_message": msg})
		return
	}

	tabs, err := s.db.SnapshotAllTabs(ctx, aid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error_message": err.Error()})
		return
	}
	activeBrowsers := make(map[string]map[string]string, len(tabs))
	for reqid, t := range tabs {
		activeBrowsers[reqid] = map[string]string(t)
	}

	entries, err := s.db.SnapshotQueue(ctx, aid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error_message": err.Error()})
		return
	}
	queue := make([]model.URLRequest, 0, len(entries))
	for _, e := range entries {
		queue = append(queue, model.URLRequest{URL: e.URL, Hops: e.Hops})
	}

	c.JSON(http.StatusOK, gin.H{"auto": a.Serialize(activeBrowsers, queue)})
}

// delete implements DELETE /api/v1/auto/<aid>.
func (s *Server) delete(c *gin.Context) {
	aid := c.Param("aid")
	callerCollection := c.Query("coll")
	isAdmin := s.adminToken != "" && c.GetHeader("X-Admin-Token") == s.adminToken

	if err := model.Delete(c.Request.Context(), s.db, aid, callerCollection, isAdmin); err != nil {
		status, msg := errStatus(err)
		c.JSON(status, gin.H{"error_message": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted_id": aid})
}

func errStatus(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "automation not found"
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	default:
		return http.StatusBadRequest, err.Error()
	}
}
