package camera

import (
	"context"
	"sync"

	"satsuei/internal/profile"
)

// Device は1台の物理デバイスに対する統一インターフェース
// 各バリアント（ウェブカメラ・PTPカメラ・深度センサー）が実装する
type Device interface {
	// ID はプロセス内で安定したデバイス識別子を返す
	ID() string

	// Kind はデバイス種別を返す
	Kind() profile.DeviceType

	// Connected は接続状態を返す
	Connected() bool

	// Connect はネイティブハンドルを取得する（冪等）
	Connect(ctx context.Context) error

	// Disconnect はネイティブハンドルを解放する（冪等）
	Disconnect(ctx context.Context) error

	// Capture は静止画を撮影してファイルに書き出す
	// 未接続の場合はErrNotConnectedを返す
	Capture(ctx context.Context, opts CaptureOptions) (*CaptureResult, error)

	// PreviewFrame はエンコード済みの1フレームを返す
	// 未接続の場合はErrNotConnectedを返す
	PreviewFrame(ctx context.Context) ([]byte, error)

	// UpdateSettings は設定パッチを保存済み設定にマージして適用する
	UpdateSettings(ctx context.Context, patch map[string]any) error

	// Summary は副作用なしで要約を返す
	Summary() DeviceSummary

	// Close は破棄時のフォールバック解放
	// 明示的に切断されないままレジストリから外れたハンドルを確実に解放する
	Close() error
}

// CaptureOptions は1回の撮影に対するオプション
// Settingsは保存済み設定の上にこの呼び出しに限ってマージされる
type CaptureOptions struct {
	Dir       string         `json:"dir,omitempty"`       // 保存先ディレクトリ（空ならデフォルトの写真ディレクトリ）
	Thumbnail bool           `json:"thumbnail,omitempty"` // サムネイル生成
	Settings  map[string]any `json:"settings,omitempty"`
}

// CaptureResult は撮影結果を表す
type CaptureResult struct {
	FilePath      string `json:"filepath"`
	Filename      string `json:"filename"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
}

// DeviceSummary はデバイスの要約情報
type DeviceSummary struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Kind      profile.DeviceType `json:"kind"`
	Connected bool               `json:"connected"`
	Settings  map[string]any     `json:"settings"`
	LastError string             `json:"last_error,omitempty"`
}

// baseDevice は各バリアント共通の状態を提供する
type baseDevice struct {
	id   string
	name string
	kind profile.DeviceType

	mu        sync.RWMutex
	connected bool
	settings  map[string]any
	lastError string
}

// ID はデバイス識別子を返す
func (b *baseDevice) ID() string { return b.id }

// Kind はデバイス種別を返す
func (b *baseDevice) Kind() profile.DeviceType { return b.kind }

// Connected は接続状態を返す
func (b *baseDevice) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Summary は要約を返す
func (b *baseDevice) Summary() DeviceSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	settings := make(map[string]any, len(b.settings))
	for k, v := range b.settings {
		settings[k] = v
	}

	return DeviceSummary{
		ID:        b.id,
		Name:      b.name,
		Kind:      b.kind,
		Connected: b.connected,
		Settings:  settings,
		LastError: b.lastError,
	}
}

// setLastError は直近のエラーメッセージを記録する
func (b *baseDevice) setLastError(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastError = msg
}

// mergeSettings はパッチを保存済み設定にマージする
func (b *baseDevice) mergeSettings(patch map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.settings == nil {
		b.settings = make(map[string]any)
	}
	for k, v := range patch {
		b.settings[k] = v
	}
}

// effectiveSettings は保存済み設定にオプションを重ねた一時的な設定を返す
// 保存済み設定自体は変更しない
func (b *baseDevice) effectiveSettings(overlay map[string]any) map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	merged := make(map[string]any, len(b.settings)+len(overlay))
	for k, v := range b.settings {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// settingInt は設定マップから整数値を取り出す
// YAMLやJSON経由で型が揺れるため数値型を吸収する
func settingInt(settings map[string]any, key string, defaultValue int) int {
	v, ok := settings[key]
	if !ok {
		return defaultValue
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return defaultValue
}

// settingFloat は設定マップから浮動小数点値を取り出す
func settingFloat(settings map[string]any, key string, defaultValue float64) float64 {
	v, ok := settings[key]
	if !ok {
		return defaultValue
	}
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return defaultValue
}

// settingBool は設定マップから真偽値を取り出す
func settingBool(settings map[string]any, key string, defaultValue bool) bool {
	v, ok := settings[key]
	if !ok {
		return defaultValue
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return defaultValue
}
