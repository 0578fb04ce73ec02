package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"satsuei/internal/camera"
	"satsuei/internal/config"
	"satsuei/internal/profile"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	registry   *camera.Registry
	profiles   *profile.Store
	logger     zerolog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, registry *camera.Registry, profiles *profile.Store, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		config:   cfg,
		registry: registry,
		profiles: profiles,
		logger:   logger,
		engine:   engine,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	s.setupRoutes()
	return s
}

// Engine はテスト用にginエンジンを公開する
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)

		// デバイス操作
		api.GET("/devices", s.handleListDevices)
		api.POST("/devices/scan", s.handleScanDevices)
		api.POST("/devices/:id/connect", s.handleConnectDevice)
		api.POST("/devices/:id/disconnect", s.handleDisconnectDevice)
		api.POST("/devices/disconnect", s.handleDisconnectActive)

		// アクティブデバイスへの操作
		api.POST("/capture", s.handleCapture)
		api.GET("/preview", s.handlePreviewFrame)
		api.GET("/preview/stream", s.handlePreviewStream)
		api.GET("/settings", s.handleGetSettings)
		api.PATCH("/settings", s.handleUpdateSettings)

		// プロファイルCRUD
		api.GET("/profiles", s.handleListProfiles)
		api.POST("/profiles", s.handleCreateProfile)
		api.GET("/profiles/:id", s.handleGetProfile)
		api.PUT("/profiles/:id", s.handleUpdateProfile)
		api.DELETE("/profiles/:id", s.handleDeleteProfile)
		api.POST("/profiles/:id/activate", s.handleActivateProfile)
	}
}

// Start はサーバーを起動する
// コンテキストのキャンセルまたはSIGINT/SIGTERMでグレースフルに停止する
func (s *Server) Start(ctx context.Context) error {
	shutdownCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", s.config.ServerAddress()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info().Str("signal", sig.String()).Msg("シグナルを受信しました")
	case err := <-shutdownCh:
		return err
	}

	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// 進行中のプレビューストリームは停止され、接続中のデバイスは解放される
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("サーバーをシャットダウンしています")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	if err := s.registry.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("デバイスの解放でエラー")
	}

	s.logger.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}
