package camera

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"satsuei/internal/profile"
)

// ffmpegの-q:v相当の品質係数
// 撮影はプレビューより高品質で再エンコードする
const (
	webcamCaptureQuality = 2
	webcamPreviewQuality = 5
)

// ウェブカメラのデフォルト設定
const (
	defaultWebcamWidth     = 1280
	defaultWebcamHeight    = 720
	defaultWebcamFrameRate = 30
)

// WebcamDevice はUSBウェブカメラのDevice実装
type WebcamDevice struct {
	baseDevice

	backend  WebcamBackend
	address  string
	defaults CaptureDefaults
	logger   zerolog.Logger

	session WebcamSession // 接続中のみ非nil
}

// NewWebcamDevice は新しいWebcamDeviceを作成する
func NewWebcamDevice(id, name, address string, settings map[string]any, backend WebcamBackend, defaults CaptureDefaults, logger zerolog.Logger) *WebcamDevice {
	if settings == nil {
		settings = make(map[string]any)
	}

	return &WebcamDevice{
		baseDevice: baseDevice{
			id:       id,
			name:     name,
			kind:     profile.TypeWebcam,
			settings: settings,
		},
		backend:  backend,
		address:  address,
		defaults: defaults,
		logger:   logger.With().Str("device", id).Logger(),
	}
}

// webcamSettings は設定マップからオープン時設定を組み立てる
func (d *WebcamDevice) webcamSettings(settings map[string]any) WebcamSettings {
	return WebcamSettings{
		Width:     settingInt(settings, "width", defaultWebcamWidth),
		Height:    settingInt(settings, "height", defaultWebcamHeight),
		FrameRate: settingInt(settings, "frame_rate", defaultWebcamFrameRate),
	}
}

// Connect はフレーム取得セッションを開く（冪等）
func (d *WebcamDevice) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil // 既に接続済み
	}

	session, err := d.backend.Open(ctx, d.address, d.webcamSettings(d.settings))
	if err != nil {
		d.lastError = err.Error()
		d.logger.Error().Err(err).Msg("ウェブカメラの接続に失敗")
		return fmt.Errorf("%w: %s", ErrConnect, err)
	}

	d.session = session
	d.connected = true
	d.lastError = ""
	d.logger.Info().Str("address", d.address).Msg("ウェブカメラに接続しました")

	return nil
}

// Disconnect はセッションを解放する（冪等）
func (d *WebcamDevice) Disconnect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil // 既に切断済み
	}

	err := d.session.Close()
	d.session = nil
	d.connected = false

	if err != nil {
		d.logger.Warn().Err(err).Msg("セッションの解放でエラー")
		return fmt.Errorf("%w: %s", ErrDisconnect, err)
	}

	d.logger.Info().Msg("ウェブカメラを切断しました")
	return nil
}

// Capture は1フレームを高品質で取得してファイルに書き出す
// この呼び出し限りの設定がある場合は、保存済み設定に重ねた一時セッションで
// 撮影する（保存済み設定と接続中のセッションは変更しない）
func (d *WebcamDevice) Capture(ctx context.Context, opts CaptureOptions) (*CaptureResult, error) {
	d.mu.RLock()
	session := d.session
	connected := d.connected
	d.mu.RUnlock()

	if !connected {
		return nil, ErrNotConnected
	}

	if len(opts.Settings) > 0 {
		// ffmpegセッションはネイティブ資源を保持しないため
		// 接続中のセッションと一時セッションは共存できる
		transient, err := d.backend.Open(ctx, d.address, d.webcamSettings(d.effectiveSettings(opts.Settings)))
		if err != nil {
			d.setLastError(err.Error())
			d.logger.Error().Err(err).Msg("撮影用セッションのオープンに失敗")
			return nil, fmt.Errorf("%w: %s", ErrCapture, err)
		}
		defer transient.Close()
		session = transient
	}

	data, err := session.GrabFrame(ctx, webcamCaptureQuality)
	if err != nil {
		d.setLastError(err.Error())
		d.logger.Error().Err(err).Msg("撮影フレームの取得に失敗")
		return nil, fmt.Errorf("%w: %s", ErrCapture, err)
	}

	result, err := writeCaptureResult(data, opts, d.defaults)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCapture, err)
	}

	d.logger.Info().Str("file", result.Filename).Msg("撮影しました")
	return result, nil
}

// PreviewFrame は1フレームをプレビュー品質で返す
func (d *WebcamDevice) PreviewFrame(ctx context.Context) ([]byte, error) {
	d.mu.RLock()
	session := d.session
	connected := d.connected
	d.mu.RUnlock()

	if !connected {
		return nil, ErrNotConnected
	}

	data, err := session.GrabFrame(ctx, webcamPreviewQuality)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPreview, err)
	}

	return data, nil
}

// UpdateSettings は設定をマージし、接続中なら新しい設定でセッションを開き直す
func (d *WebcamDevice) UpdateSettings(ctx context.Context, patch map[string]any) error {
	d.mergeSettings(patch)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	// 解像度・フレームレートはオープン時に適用されるため開き直す
	_ = d.session.Close()
	session, err := d.backend.Open(ctx, d.address, d.webcamSettings(d.settings))
	if err != nil {
		d.session = nil
		d.connected = false
		d.lastError = err.Error()
		d.logger.Error().Err(err).Msg("新しい設定での再接続に失敗")
		return fmt.Errorf("%w: %s", ErrSettings, err)
	}

	d.session = session
	d.logger.Info().Msg("設定を適用して再接続しました")
	return nil
}

// Close は破棄時のフォールバック解放
func (d *WebcamDevice) Close() error {
	return d.Disconnect(context.Background())
}
