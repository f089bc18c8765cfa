package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"adreel/internal/events"
	"adreel/internal/model"
	"adreel/internal/queue"
	"adreel/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler HTTP入口，只做参数校验与出入库，业务全在队列消费侧
type Handler struct {
	store *store.GormStore
	hub   *events.Hub
	log   *logrus.Entry
}

func NewHandler(s *store.GormStore, hub *events.Hub) *Handler {
	return &Handler{store: s, hub: hub, log: logrus.WithField("component", "api")}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		v1.POST("/generations", h.CreateGeneration)
		v1.GET("/generations/:id", h.GetGeneration)
		v1.POST("/generations/:id/cancel", h.CancelGeneration)
		v1.GET("/generations/:id/events", h.StreamEvents)
	}
}

type createRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// CreateGeneration 创建一次生成并入队
func (h *Handler) CreateGeneration(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt required"})
		return
	}

	gen := &model.Generation{
		ID:        uuid.NewString(),
		Prompt:    req.Prompt,
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := h.store.CreateGeneration(c.Request.Context(), gen); err != nil {
		h.log.Errorf("create generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	if err := queue.EnqueueGeneration(gen.ID); err != nil {
		h.log.Errorf("enqueue generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": gen.ID, "status": gen.Status})
}

// GetGeneration 查询生成状态与后台评分
func (h *Handler) GetGeneration(c *gin.Context) {
	id := c.Param("id")
	gen, err := h.store.LoadGeneration(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
			return
		}
		h.log.Errorf("load generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load failed"})
		return
	}

	scores, err := h.store.ListStageScores(c.Request.Context(), id)
	if err != nil {
		h.log.Warnf("list stage scores failed: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"generation":   gen,
		"stage_scores": scores,
	})
}

// CancelGeneration 设置持久化取消标记，调度器在下一个阶段边界停下。
// 终态的Generation拒绝取消
func (h *Handler) CancelGeneration(c *gin.Context) {
	id := c.Param("id")
	gen, err := h.store.LoadGeneration(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "generation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load failed"})
		return
	}
	if model.IsTerminal(gen.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": "generation already terminal", "status": gen.Status})
		return
	}

	if err := h.store.RequestCancellation(c.Request.Context(), id); err != nil {
		h.log.Errorf("request cancellation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "cancellation_requested": true})
}

// StreamEvents 把事件枢纽的进度事件推给websocket客户端
func (h *Handler) StreamEvents(c *gin.Context) {
	id := c.Param("id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, cancel := h.hub.Subscribe(id)
	defer cancel()

	// 读循环只为感知客户端断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case evt := <-ch:
			if err := conn.WriteJSON(evt); err != nil {
				h.log.Debugf("websocket write failed: %v", err)
				return
			}
		}
	}
}
