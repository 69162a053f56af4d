package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkin/internal/camera"
	"checkin/internal/httpmiddleware"
	"checkin/internal/scan"
	"checkin/internal/store"
)

const wsWriteWait = 10 * time.Second

// Server exposes a Registry over HTTP.
type Server struct {
	Registry *Registry
	// Redis is checked by /healthz when set.
	Redis           *store.Redis
	RateLimitPerMin int
	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins []string
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	upgrader websocket.Upgrader
}

// Handler builds the gin engine.
func (s *Server) Handler() *gin.Engine {
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware(s.AllowedOrigins))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(s.RateLimitPerMin, s.RateLimitPerMin, nil).GinMiddleware())

	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	r.GET("/healthz", s.healthz)

	v1 := r.Group("/v1")
	v1.GET("/flows", s.listFlows)
	v1.POST("/sessions", s.createSession)

	sess := v1.Group("/sessions/:id")
	sess.GET("", s.getSession)
	sess.DELETE("", s.deleteSession)
	sess.POST("/camera", s.activateCamera)
	sess.DELETE("/camera", s.deactivateCamera)
	sess.POST("/start", s.start)
	sess.POST("/reset", s.reset)
	sess.GET("/ws", s.stream)
	return r
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(s.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, o := range s.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (s *Server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok", "sessions": s.Registry.Len()}
	status := http.StatusOK
	if s.Redis != nil {
		healthy := s.Redis.Healthy(c.Request.Context())
		body["redis"] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (s *Server) listFlows(c *gin.Context) {
	catalog := s.Registry.Catalog()
	flows := make([]gin.H, 0, len(catalog))
	for _, name := range catalog.Names() {
		f := catalog[name]
		flows = append(flows, gin.H{
			"name":           f.Name,
			"method":         f.Method,
			"method_label":   f.Method.Label(),
			"phases":         int(f.Variant),
			"require_camera": f.RequireCamera,
		})
	}
	c.JSON(http.StatusOK, gin.H{"flows": flows})
}

func (s *Server) createSession(c *gin.Context) {
	var req struct {
		Flow string `json:"flow" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
		return
	}
	sess, err := s.Registry.Create(req.Flow)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess.Snapshot())
}

// lookup resolves :id or writes 404.
func (s *Server) lookup(c *gin.Context) (*scan.Session, *Hub, bool) {
	sess, hub, ok := s.Registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "code": "not_found"})
	}
	return sess, hub, ok
}

func (s *Server) getSession(c *gin.Context) {
	sess, _, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) deleteSession(c *gin.Context) {
	if !s.Registry.Close(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "code": "not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) activateCamera(c *gin.Context) {
	sess, _, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := sess.ActivateCamera(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) deactivateCamera(c *gin.Context) {
	sess, _, ok := s.lookup(c)
	if !ok {
		return
	}
	sess.DeactivateCamera()
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) start(c *gin.Context) {
	sess, _, ok := s.lookup(c)
	if !ok {
		return
	}
	var req struct {
		ImageURL  string `json:"image_url"`
		SubjectID string `json:"subject_id"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
			return
		}
	}
	started, err := sess.Start(c.Request.Context(), scan.StartOptions{ImageURL: req.ImageURL, SubjectID: req.SubjectID})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"started": started, "session": sess.Snapshot()})
}

func (s *Server) reset(c *gin.Context) {
	sess, _, ok := s.lookup(c)
	if !ok {
		return
	}
	sess.Reset()
	c.JSON(http.StatusOK, sess.Snapshot())
}

// stream pushes the current snapshot and then every change until the
// session closes or the client goes away.
func (s *Server) stream(c *gin.Context) {
	sess, hub, ok := s.lookup(c)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	wake, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var next uint64
	send := func(snap scan.Snapshot) error {
		if snap.Seq < next {
			return nil
		}
		next = snap.Seq + 1
		return writeSnapshot(conn, snap)
	}

	if err := send(sess.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			return
		case _, open := <-wake:
			if snap, ok := hub.Latest(); ok {
				if err := send(snap); err != nil {
					return
				}
			}
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap scan.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(snap)
}

func writeError(c *gin.Context, err error) {
	var accessErr *camera.DeviceAccessError
	switch {
	case errors.Is(err, scan.ErrPreconditionFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "precondition_failed"})
	case errors.As(err, &accessErr):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": "device_access"})
	case errors.Is(err, scan.ErrCameraReleased):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "camera_released"})
	case errors.Is(err, scan.ErrUnknownFlow):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "unknown_flow"})
	case errors.Is(err, scan.ErrSessionClosed):
		c.JSON(http.StatusGone, gin.H{"error": err.Error(), "code": "session_closed"})
	default:
		log.Printf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
	}
}
