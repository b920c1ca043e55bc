package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"camshare/internal/camera"
	"camshare/internal/share"
)

const mjpegBoundary = "frame"

// GetStream はMJPEGストリームを配信する
// 同じカメラを見ているクライアントが何人いても物理キャプチャは共有される
func (h *Handler) GetStream(c *gin.Context) {
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

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	ctx := c.Request.Context()

	// 最初のフレームを取れなければ通常のエラーレスポンスを返す
	var frame camera.Frame
	if err := handle.Capture(ctx, &frame); err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(h.streamInterval())
	defer ticker.Stop()

	var buf bytes.Buffer
	for {
		buf.Reset()
		if err := frame.EncodeJPEG(&buf, h.quality()); err != nil {
			h.logger.Warn("ストリームのエンコードに失敗", "camera", c.Param("id"), "error", err)
			return
		}
		if err := writePart(c.Writer, buf.Bytes()); err != nil {
			// クライアントが切断された
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := handle.Capture(ctx, &frame); err != nil {
			if errors.Is(err, share.ErrTimeout) || errors.Is(err, share.ErrCapture) {
				// 一時的な失敗は前のフレームを送り直して続ける
				h.logger.Debug("ストリームの撮影に失敗", "camera", c.Param("id"), "error", err)
				continue
			}
			return
		}
	}
}

func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
