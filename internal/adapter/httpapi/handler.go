package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github-scout/internal/common"
	"github-scout/internal/domain"
	"github-scout/internal/port"
	"github-scout/internal/service"
)

// Handler REST + SSE 接入层：薄壳，所有业务语义都在 service 层
type Handler struct {
	svc   *service.ScoutService
	store port.Store
}

// Register 注册全部路由
func Register(router *gin.Engine, svc *service.ScoutService, store port.Store) {
	h := &Handler{svc: svc, store: store}

	router.POST("/profile", h.SaveProfile)
	router.GET("/profile", h.GetProfile)
	router.POST("/search", h.StartSearch)
	router.GET("/search/:run_id/stream", h.StreamSearch)
	router.GET("/search/:run_id/results", h.GetResults)
	router.POST("/search/:run_id/cancel", h.CancelSearch)
}

// SaveProfile 保存开发者画像 (create-or-replace)
func (h *Handler) SaveProfile(c *gin.Context) {
	var profile domain.DeveloperProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := profile.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.store.SaveProfile(c.Request.Context(), &profile)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "画像保存失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile_id": id})
}

// GetProfile 读取当前画像
func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.store.GetProfile(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "画像读取失败"})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "尚未配置开发者画像"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// StartSearch 启动一次搜索运行，立即返回 run_id，流水线在后台执行
func (h *Handler) StartSearch(c *gin.Context) {
	var filters domain.SearchFilters
	if err := c.ShouldBindJSON(&filters); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.svc.StartRun(c.Request.Context(), c.ClientIP(), filters)
	if err != nil {
		var rejected *common.RunRejectedError
		if errors.As(err, &rejected) {
			if rejected.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(rejected.RetryAfter.Seconds())))
			}
			c.JSON(http.StatusTooManyRequests, gin.H{"error": rejected.Reason})
			return
		}
		if common.HasCode(err, common.ErrCodeInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": friendly(err)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "搜索启动失败"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": run.ID,
		"status": run.Status,
	})
}

// StreamSearch 把运行的进度流以 SSE 推给唯一订阅者
// 订阅不可用时 (运行不存在/已终结/已有订阅者) 只推一条 error 事件后关流
func (h *Handler) StreamSearch(c *gin.Context) {
	runID := c.Param("run_id")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	events, ok := h.svc.Subscribe(runID)
	if !ok {
		writeSSE(c, service.Event{Type: service.EventError, Message: subscribeFailure(c, h.store, runID)})
		return
	}

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case evt, open := <-events:
			if !open {
				return
			}
			writeSSE(c, evt)
		}
	}
}

// subscribeFailure 区分订阅失败的三种情况，提示下一步怎么走
func subscribeFailure(c *gin.Context, store port.Store, runID string) string {
	run, err := store.GetRun(c.Request.Context(), runID)
	if err != nil || run == nil {
		return "运行不存在"
	}
	if run.Status.Terminal() {
		return fmt.Sprintf("运行已结束 (%s)，请通过 /search/%s/results 获取结果", run.Status, runID)
	}
	return "该运行已有订阅者"
}

func writeSSE(c *gin.Context, evt service.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}

// GetResults 读取运行的持久化结果，终态之前只返回状态
func (h *Handler) GetResults(c *gin.Context) {
	runID := c.Param("run_id")

	run, err := h.store.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "运行记录读取失败"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "运行不存在"})
		return
	}

	if !run.Status.Terminal() {
		c.JSON(http.StatusOK, gin.H{
			"run_id": run.ID,
			"status": run.Status,
		})
		return
	}

	result, err := h.store.GetRunResults(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "结果读取失败"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// CancelSearch 幂等取消：对已终结或不存在的运行同样返回成功
func (h *Handler) CancelSearch(c *gin.Context) {
	runID := c.Param("run_id")
	h.svc.Cancel(runID)
	c.JSON(http.StatusOK, gin.H{
		"run_id":  runID,
		"message": "取消请求已受理",
	})
}

func friendly(err error) string {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		if appErr.Err != nil {
			return appErr.Message + ": " + appErr.Err.Error()
		}
		return appErr.Message
	}
	return err.Error()
}
