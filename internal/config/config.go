package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Preview PreviewConfig `yaml:"preview"`
	Capture CaptureConfig `yaml:"capture"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// StorageConfig はデータ保存先の設定
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`      // データディレクトリのルート
	PhotosDir   string `yaml:"photos_dir"`    // 撮影画像の保存先（空ならDataDir/photos）
	ProfilesDir string `yaml:"profiles_dir"`  // カメラ設定プロファイルの保存先（空ならDataDir/camera-config）
	StateDBPath string `yaml:"state_db_path"` // KVストアのパス（空ならDataDir/state.db）
}

// PreviewConfig はプレビューストリームの設定
type PreviewConfig struct {
	FrameRate    int           `yaml:"frame_rate"`    // 目標フレームレート (fps)
	RetryBackoff time.Duration `yaml:"retry_backoff"` // フレーム取得失敗時の待機時間
}

// CaptureConfig は静止画撮影の設定
type CaptureConfig struct {
	Quality         int  `yaml:"quality"`          // JPEG品質 (1-100)
	Thumbnail       bool `yaml:"thumbnail"`        // サムネイル生成の有効化
	ThumbnailWidth  int  `yaml:"thumbnail_width"`  // サムネイルの最大幅
	ThumbnailHeight int  `yaml:"thumbnail_height"` // サムネイルの最大高さ
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console または json
}

// Load は設定を読み込む
// 設定ファイルが存在する場合はそれを読み込み、環境変数で上書きする
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
			}
			// ファイルが無い場合はデフォルト値を使用
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	// 環境変数で上書き
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.Storage.DataDir = getEnvOrDefault("SATSUEI_DATA_DIR", cfg.Storage.DataDir)

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Preview: PreviewConfig{
			FrameRate:    30,
			RetryBackoff: 300 * time.Millisecond,
		},
		Capture: CaptureConfig{
			Quality:         92,
			Thumbnail:       true,
			ThumbnailWidth:  320,
			ThumbnailHeight: 240,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("データディレクトリが設定されていません")
	}

	if c.Preview.FrameRate < 1 || c.Preview.FrameRate > 60 {
		return fmt.Errorf("無効なプレビューフレームレート: %d", c.Preview.FrameRate)
	}

	if c.Capture.Quality < 1 || c.Capture.Quality > 100 {
		return fmt.Errorf("無効なJPEG品質: %d", c.Capture.Quality)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ResolvedPhotosDir は撮影画像の保存先のパスを返す
func (c *Config) ResolvedPhotosDir() string {
	if c.Storage.PhotosDir != "" {
		return c.Storage.PhotosDir
	}
	return filepath.Join(c.Storage.DataDir, "photos")
}

// ResolvedProfilesDir はプロファイル保存先のパスを返す
func (c *Config) ResolvedProfilesDir() string {
	if c.Storage.ProfilesDir != "" {
		return c.Storage.ProfilesDir
	}
	return filepath.Join(c.Storage.DataDir, "camera-config")
}

// ResolvedStateDBPath はKVストアファイルのパスを返す
func (c *Config) ResolvedStateDBPath() string {
	if c.Storage.StateDBPath != "" {
		return c.Storage.StateDBPath
	}
	return filepath.Join(c.Storage.DataDir, "state.db")
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
