package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"satsuei/internal/camera"
	"satsuei/internal/profile"
)

// ErrorResponse はエラー時の共通レスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// writeError はドメインエラーをHTTPステータスに変換して返す
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, camera.ErrNotFound):
		status, code = http.StatusNotFound, "device_not_found"
	case errors.Is(err, profile.ErrNotFound):
		status, code = http.StatusNotFound, "profile_not_found"
	case errors.Is(err, profile.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, camera.ErrNoActiveDevice):
		status, code = http.StatusConflict, "no_active_device"
	case errors.Is(err, camera.ErrNotConnected):
		status, code = http.StatusConflict, "not_connected"
	case errors.Is(err, camera.ErrBackendUnavailable):
		status, code = http.StatusServiceUnavailable, "backend_unavailable"
	case errors.Is(err, camera.ErrConnect):
		status, code = http.StatusBadGateway, "connect_failed"
	case errors.Is(err, camera.ErrDisconnect):
		status, code = http.StatusBadGateway, "disconnect_failed"
	case errors.Is(err, camera.ErrCapture):
		status, code = http.StatusBadGateway, "capture_failed"
	case errors.Is(err, camera.ErrPreview):
		status, code = http.StatusBadGateway, "preview_failed"
	case errors.Is(err, camera.ErrSettings):
		status, code = http.StatusBadGateway, "settings_failed"
	}

	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// handleStatus はシステム状態を返す
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "running",
		"server": gin.H{
			"host": s.config.Server.Host,
			"port": s.config.Server.Port,
		},
		"devices":       len(s.registry.List()),
		"active_device": s.registry.ActiveID(),
		"timestamp":     time.Now(),
	})
}

// handleListDevices は現在のデバイス一覧を返す
// 再スキャンは行わない（/api/devices/scanを使う）
func (s *Server) handleListDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"devices": s.registry.List(),
		"active":  s.registry.ActiveID(),
	})
}

// handleScanDevices はハードウェアを再列挙してデバイステーブルを入れ替える
func (s *Server) handleScanDevices(c *gin.Context) {
	devices, err := s.registry.Enumerate(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// handleConnectDevice はデバイスに接続してアクティブに設定する
func (s *Server) handleConnectDevice(c *gin.Context) {
	summary, err := s.registry.Connect(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// handleDisconnectDevice は指定デバイスを切断する
func (s *Server) handleDisconnectDevice(c *gin.Context) {
	if err := s.registry.Disconnect(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

// handleDisconnectActive はアクティブデバイスを切断する
func (s *Server) handleDisconnectActive(c *gin.Context) {
	if err := s.registry.Disconnect(c.Request.Context(), ""); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

// handleCapture はアクティブデバイスで静止画を撮影する
func (s *Server) handleCapture(c *gin.Context) {
	var opts camera.CaptureOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:     "invalid_request",
				Message:   err.Error(),
				Timestamp: time.Now(),
			})
			return
		}
	}

	// 設定でサムネイル生成が有効な場合はリクエスト省略時も生成する
	if s.config.Capture.Thumbnail {
		opts.Thumbnail = true
	}

	result, err := s.registry.Capture(c.Request.Context(), opts)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handlePreviewFrame はアクティブデバイスの1フレームをJPEGで返す
func (s *Server) handlePreviewFrame(c *gin.Context) {
	data, err := s.registry.PreviewFrame(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

// handlePreviewStream はMJPEGストリームを配信する
func (s *Server) handlePreviewStream(c *gin.Context) {
	frames, err := s.registry.StreamPreview(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			// クライアントが切断された
			return

		case frame, ok := <-frames:
			if !ok {
				// ストリームが停止された
				return
			}

			if _, err := writer.Write([]byte("--frame\r\n")); err != nil {
				return
			}
			if _, err := writer.Write([]byte("Content-Type: image/jpeg\r\n\r\n")); err != nil {
				return
			}
			if _, err := writer.Write(frame); err != nil {
				return
			}
			if _, err := writer.Write([]byte("\r\n")); err != nil {
				return
			}

			flusher.Flush()
		}
	}
}

// handleGetSettings はアクティブデバイスの設定を返す
func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.registry.GetSettings()
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// handleUpdateSettings はアクティブデバイスの設定を部分更新する
func (s *Server) handleUpdateSettings(c *gin.Context) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_request",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	if err := s.registry.UpdateSettings(c.Request.Context(), patch); err != nil {
		s.writeError(c, err)
		return
	}

	settings, err := s.registry.GetSettings()
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// handleListProfiles はプロファイル一覧を返す
func (s *Server) handleListProfiles(c *gin.Context) {
	summaries, err := s.profiles.List()
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"profiles": summaries})
}

// handleCreateProfile は新しいプロファイルを作成する
func (s *Server) handleCreateProfile(c *gin.Context) {
	var p profile.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_request",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	id, err := s.profiles.Create(p)
	if err != nil {
		s.writeError(c, err)
		return
	}

	created, err := s.profiles.Get(id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// handleGetProfile は1件のプロファイルを返す
func (s *Server) handleGetProfile(c *gin.Context) {
	p, err := s.profiles.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

// handleUpdateProfile はプロファイルを部分更新する
func (s *Server) handleUpdateProfile(c *gin.Context) {
	var p profile.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_request",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	id := c.Param("id")
	if err := s.profiles.Update(id, p); err != nil {
		s.writeError(c, err)
		return
	}

	updated, err := s.profiles.Get(id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

// handleDeleteProfile はプロファイルを削除する
func (s *Server) handleDeleteProfile(c *gin.Context) {
	if err := s.profiles.Delete(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// handleActivateProfile はプロファイルをアクティブに設定する
func (s *Server) handleActivateProfile(c *gin.Context) {
	if err := s.profiles.SetActive(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "activated"})
}
