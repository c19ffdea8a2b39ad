package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/feedmodel/internal/domain/feed"
	"github.com/GriffinCanCode/feedmodel/internal/domain/session"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/feedmodel/internal/shared/validate"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions *session.Manager
	metrics  *monitoring.Metrics
}

// NewHandlers creates a new handler set
func NewHandlers(sessions *session.Manager, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{sessions: sessions, metrics: metrics}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.DELETE("/sessions/:id", h.DeleteSession)
	r.GET("/sessions/:id/children", h.Children)
	r.POST("/sessions/:id/tokens/:contentId", h.HandleToken)
	r.POST("/sessions/:id/refresh", h.Refresh)
}

// ChildView is the JSON form of a tree node.
type ChildView struct {
	ContentID string     `json:"content_id"`
	Type      string     `json:"type"`
	Card      *feed.Card `json:"card,omitempty"`
	Synthetic bool       `json:"synthetic,omitempty"`
}

func viewOf(child *feed.Child) ChildView {
	v := ChildView{ContentID: child.ContentID(), Type: child.Type().String()}
	if f := child.Feature(); f != nil {
		v.Card = f.StreamFeature().Card
	}
	if t := child.Token(); t != nil {
		v.Synthetic = t.IsSynthetic()
	}
	return v
}

// RefreshRequest is the optional body of a refresh.
type RefreshRequest struct {
	Reason    string            `json:"reason"`
	UIContext map[string]string `json:"ui_context"`
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "feed model service",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.sessions.Stats(),
	})
}

// CreateSession starts a new feed session
func (h *Handlers) CreateSession(c *gin.Context) {
	sess, err := h.sessions.Create(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session": sess.Info(),
		"dump":    sess.Provider().Dump(),
	})
}

// ListSessions lists live sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.sessions.List(),
		"stats":    h.sessions.Stats(),
	})
}

// GetSession returns a session with a dump of its provider
func (h *Handlers) GetSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": sess.Info(),
		"dump":    sess.Provider().Dump(),
	})
}

// DeleteSession invalidates and forgets a session
func (h *Handlers) DeleteSession(c *gin.Context) {
	err := h.sessions.Close(c.Request.Context(), c.Param("id"))
	if errors.Is(err, session.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Children drains a cursor over a feature's children. An empty parent means
// the root.
func (h *Handlers) Children(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	p := sess.Provider()

	parent := c.Query("parent")
	if err := validate.ContentID(parent, "parent", false); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var f *feed.Feature
	if parent == "" {
		f = p.RootFeature()
	} else if child := p.ModelChild(parent); child != nil {
		f = child.Feature()
	}
	if f == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "feature not found"})
		return
	}

	children := f.Cursor().Drain()
	views := make([]ChildView, 0, len(children))
	for _, child := range children {
		views = append(views, viewOf(child))
	}
	c.JSON(http.StatusOK, gin.H{
		"parent":   f.ContentID(),
		"children": views,
	})
}

// HandleToken requests the page behind a token
func (h *Handlers) HandleToken(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	contentID := c.Param("contentId")
	if err := validate.ContentID(contentID, "contentId", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	child := sess.Provider().ModelChild(contentID)
	if child == nil || child.Token() == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
		return
	}

	token := child.Token()
	watched := sess.WatchToken(token)
	if !sess.Provider().HandleToken(c.Request.Context(), token) {
		if watched {
			sess.UnwatchToken(token)
		}
		c.JSON(http.StatusConflict, gin.H{"error": "token cannot be handled now"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"token":     child.ContentID(),
		"synthetic": token.IsSynthetic(),
	})
}

// Refresh asks for fresh content, which ends the session
func (h *Handlers) Refresh(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	var req RefreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := errors.Join(validate.Reason(req.Reason), validate.UIContext(req.UIContext)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := feed.ParseRequestReason(req.Reason)
	if req.Reason == "" {
		reason = feed.ReasonManualRefresh
	}

	sess.Provider().TriggerRefreshWithContext(c.Request.Context(), reason, feed.UIContext{Payload: req.UIContext})
	c.JSON(http.StatusAccepted, gin.H{
		"reason": reason.String(),
		"state":  sess.Provider().CurrentState().String(),
	})
}

func (h *Handlers) lookup(c *gin.Context) (*session.Session, bool) {
	sess, ok := h.sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return sess, true
}
