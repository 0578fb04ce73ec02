package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"satsuei/internal/camera"
	"satsuei/internal/config"
	"satsuei/internal/logging"
	"satsuei/internal/profile"
	"satsuei/internal/server"
	"satsuei/internal/storage"
)

var (
	configPath = ""
	host       = ""
	port       = 0
	dataDir    = ""
	logLevel   = ""
	logFormat  = ""
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "satsuei",
		Short: "撮影デバイスの統合管理サーバー",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", configPath, "設定ファイルのパス")
	rootCmd.PersistentFlags().StringVar(&host, "host", host, "サーバーのホスト (デフォルト: 0.0.0.0)")
	rootCmd.PersistentFlags().IntVar(&port, "port", port, "サーバーのポート (デフォルト: 8080)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", dataDir, "データディレクトリのルート")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "ログレベル (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logFormat, "ログ形式 (console, json)")

	rootCmd.AddCommand(scanCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "エラー: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig は設定を読み込み、コマンドラインオプションで上書きする
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// buildRegistry は実機バックエンドでレジストリを組み立てる
func buildRegistry(cfg *config.Config, profiles *profile.Store, logger zerolog.Logger) *camera.Registry {
	defaults := camera.CaptureDefaults{
		PhotosDir:       cfg.ResolvedPhotosDir(),
		ThumbnailWidth:  cfg.Capture.ThumbnailWidth,
		ThumbnailHeight: cfg.Capture.ThumbnailHeight,
	}
	pacing := camera.PreviewPacing{
		FrameRate:    cfg.Preview.FrameRate,
		RetryBackoff: cfg.Preview.RetryBackoff,
	}

	return camera.NewRegistry(
		profiles,
		profile.NewMatcher(logging.Component(logger, "matcher")),
		camera.NewFFmpegWebcamBackend(),
		camera.NewGphotoTetheredBackend(),
		camera.NewRealSenseDepthBackend(),
		defaults,
		pacing,
		logging.Component(logger, "camera"),
	)
}

// runServer はHTTPサーバーを起動する
func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	if err := storage.EnsureDir(cfg.ResolvedPhotosDir()); err != nil {
		return fmt.Errorf("写真ディレクトリの作成に失敗: %w", err)
	}

	kv, err := storage.Open(cfg.ResolvedStateDBPath())
	if err != nil {
		return fmt.Errorf("KVストアのオープンに失敗: %w", err)
	}
	defer kv.Close()

	profiles, err := profile.NewStore(cfg.ResolvedProfilesDir(), kv, logging.Component(logger, "profile"))
	if err != nil {
		return fmt.Errorf("プロファイルストアの作成に失敗: %w", err)
	}

	registry := buildRegistry(cfg, profiles, logger)

	// 起動時に一度列挙してデバイステーブルを初期化する
	// 検出失敗は致命的ではない（APIから再スキャンできる）
	if devices, err := registry.Enumerate(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("起動時のデバイス列挙に失敗")
	} else {
		logger.Info().Int("count", len(devices)).Msg("起動時のデバイス列挙が完了しました")
	}

	srv := server.New(cfg, registry, profiles, logging.Component(logger, "server"))
	return srv.Start(context.Background())
}

// scanCmd は接続中のデバイスを一覧表示する
func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "接続中の撮影デバイスを列挙して表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger := logging.New(cfg.Log.Level, cfg.Log.Format)

			kv, err := storage.Open(cfg.ResolvedStateDBPath())
			if err != nil {
				return fmt.Errorf("KVストアのオープンに失敗: %w", err)
			}
			defer kv.Close()

			profiles, err := profile.NewStore(cfg.ResolvedProfilesDir(), kv, logging.Component(logger, "profile"))
			if err != nil {
				return fmt.Errorf("プロファイルストアの作成に失敗: %w", err)
			}

			registry := buildRegistry(cfg, profiles, logger)
			defer registry.Close()

			devices, err := registry.Enumerate(context.Background())
			if err != nil {
				return fmt.Errorf("デバイスの列挙に失敗: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Name, d.Kind)
			}
			return w.Flush()
		},
	}
}
