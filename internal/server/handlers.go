package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"camshare/internal/camera"
	"camshare/internal/config"
	"camshare/internal/device"
	"camshare/internal/share"
)

const (
	defaultStreamFPS   = 10
	defaultJPEGQuality = 80

	// maxDropFrames は静止画取得時に読み捨てられるフレーム数の上限
	maxDropFrames = 30
)

// Handler はAPIエンドポイントを実装する
type Handler struct {
	config  *config.Config
	devices *device.Manager
	logger  *slog.Logger
	started time.Time
}

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status      string    `json:"status"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Cameras     int       `json:"cameras"`
	OpenHandles int       `json:"open_handles"`
	Uptime      string    `json:"uptime"`
	Timestamp   time.Time `json:"timestamp"`
}

func (h *Handler) register(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")
	api.GET("/status", h.GetStatus)
	api.GET("/devices", h.GetDevices)
	api.GET("/cameras", h.GetCameras)
	api.GET("/cameras/:id", h.GetCamera)
	api.GET("/cameras/:id/snapshot", h.GetSnapshot)
	api.GET("/cameras/:id/stream", h.GetStream)
	api.GET("/pairs/:id/snapshot", h.GetPairSnapshot)
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	cameras := h.devices.Cameras()

	open := 0
	for _, cam := range cameras {
		open += cam.Stats.OpenHandles
	}

	c.JSON(http.StatusOK, StatusResponse{
		Status:      "running",
		Host:        h.config.Server.Host,
		Port:        h.config.Server.Port,
		Cameras:     len(cameras),
		OpenHandles: open,
		Uptime:      time.Since(h.started).Truncate(time.Second).String(),
		Timestamp:   time.Now(),
	})
}

// GetCameras はカメラ一覧取得エンドポイントの実装
func (h *Handler) GetCameras(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cameras": h.devices.Cameras()})
}

// GetCamera は1台分のカメラ情報を返す
func (h *Handler) GetCamera(c *gin.Context) {
	id := c.Param("id")
	info, found := h.devices.Camera(id)
	if !found {
		h.writeError(c, fmt.Errorf("%w: %s", device.ErrNotFound, id))
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetDevices はシステム内のV4L2デバイス一覧を返す
func (h *Handler) GetDevices(c *gin.Context) {
	devices, err := h.devices.Discover(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// GetSnapshot は1枚撮影してJPEGで返す
// ?drop=N で撮影前にN枚読み捨てる（露出が安定するまで待つ場合など）
func (h *Handler) GetSnapshot(c *gin.Context) {
	drop, err := strconv.Atoi(c.DefaultQuery("drop", "0"))
	if err != nil || drop < 0 || drop > maxDropFrames {
		c.JSON(http.StatusBadRequest, newErrorResponse("invalid_parameter",
			fmt.Sprintf("drop は0から%dの整数で指定してください", maxDropFrames)))
		return
	}

	handle, err := h.devices.NewHandle(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := handle.Open(); err != nil {
		h.writeError(c, err)
		return
	}
	defer handle.Close()

	ctx, cancel := h.snapshotContext(c)
	defer cancel()

	if err := share.DropFrames(ctx, handle, drop); err != nil {
		h.writeError(c, err)
		return
	}

	var frame camera.Frame
	if err := handle.Capture(ctx, &frame); err != nil {
		h.writeError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := frame.EncodeJPEG(&buf, h.quality()); err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Capture-Timestamp", frame.Timestamp.Format(time.RFC3339Nano))
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

// GetPairSnapshot はペアの2フレームを同時に撮影して multipart/mixed で返す
func (h *Handler) GetPairSnapshot(c *gin.Context) {
	handle, err := h.devices.NewPairHandle(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := handle.Open(); err != nil {
		h.writeError(c, err)
		return
	}
	defer handle.Close()

	ctx, cancel := h.snapshotContext(c)
	defer cancel()

	var first, second camera.Frame
	if err := handle.CaptureSynced(ctx, &first, &second); err != nil {
		h.writeError(c, err)
		return
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct {
		name  string
		frame *camera.Frame
	}{
		{device.StreamFirst, &first},
		{device.StreamSecond, &second},
	} {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "image/jpeg")
		header.Set("Content-Disposition", fmt.Sprintf(`attachment; name=%q; filename="%s.jpg"`, part.name, part.name))
		w, err := mw.CreatePart(header)
		if err != nil {
			h.writeError(c, err)
			return
		}
		if err := part.frame.EncodeJPEG(w, h.quality()); err != nil {
			h.writeError(c, err)
			return
		}
	}
	if err := mw.Close(); err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Capture-Timestamp", first.Timestamp.Format(time.RFC3339Nano))
	c.Data(http.StatusOK, "multipart/mixed; boundary="+mw.Boundary(), body.Bytes())
}

// snapshotContext は静止画の撮影に使うコンテキストを返す
func (h *Handler) snapshotContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.config.Server.WriteTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.config.Server.WriteTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (h *Handler) quality() int {
	if q := h.config.Server.JPEGQuality; q > 0 {
		return q
	}
	return defaultJPEGQuality
}

func (h *Handler) streamInterval() time.Duration {
	fps := h.config.Server.StreamFPS
	if fps <= 0 {
		fps = defaultStreamFPS
	}
	return time.Second / time.Duration(fps)
}

func newErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Error: code, Message: message, Timestamp: time.Now()}
}

// errorStatus はエラーをHTTPステータスとエラーコードに変換する
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, device.ErrNotFound):
		return http.StatusNotFound, "camera_not_found"
	case errors.Is(err, share.ErrTimeout):
		return http.StatusGatewayTimeout, "capture_timeout"
	case errors.Is(err, share.ErrCapture):
		return http.StatusBadGateway, "capture_failed"
	case errors.Is(err, share.ErrOpen):
		return http.StatusServiceUnavailable, "camera_open_failed"
	case errors.Is(err, share.ErrDestroyed), errors.Is(err, device.ErrStopped):
		return http.StatusServiceUnavailable, "camera_unavailable"
	case errors.Is(err, share.ErrInterrupted):
		return http.StatusServiceUnavailable, "capture_interrupted"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("リクエストの処理に失敗", "path", c.Request.URL.Path, "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, newErrorResponse(code, err.Error()))
}
