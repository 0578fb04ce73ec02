package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"satsuei/internal/profile"
)

// フレーム束待ちのリトライ設定
// パイプライン開始直後は同期済みフレームが揃わないことがある
const (
	depthBundleAttempts = 5
	depthBundleBackoff  = 200 * time.Millisecond
)

// 深度センサーのデフォルト設定
const (
	defaultDepthWidth     = 1280
	defaultDepthHeight    = 720
	defaultDepthFrameRate = 30
)

// DepthSensorDevice は深度センサーカメラのDevice実装
type DepthSensorDevice struct {
	baseDevice

	backend  DepthBackend
	address  string
	advanced map[string]any // エミッター等のセンサー固有オプション
	defaults CaptureDefaults
	logger   zerolog.Logger

	session DepthSession // 接続中のみ非nil
}

// NewDepthSensorDevice は新しいDepthSensorDeviceを作成する
func NewDepthSensorDevice(id, name, address string, settings, advanced map[string]any, backend DepthBackend, defaults CaptureDefaults, logger zerolog.Logger) *DepthSensorDevice {
	if settings == nil {
		settings = make(map[string]any)
	}

	return &DepthSensorDevice{
		baseDevice: baseDevice{
			id:       id,
			name:     name,
			kind:     profile.TypeDepthSensor,
			settings: settings,
		},
		backend:  backend,
		address:  address,
		advanced: advanced,
		defaults: defaults,
		logger:   logger.With().Str("device", id).Logger(),
	}
}

// streamConfig は設定マップからパイプライン設定を組み立てる
func (d *DepthSensorDevice) streamConfig(settings map[string]any) DepthStreamConfig {
	return DepthStreamConfig{
		Width:     settingInt(settings, "width", defaultDepthWidth),
		Height:    settingInt(settings, "height", defaultDepthHeight),
		FrameRate: settingInt(settings, "frame_rate", defaultDepthFrameRate),
		DepthMode: settingBool(settings, "depth_mode", false),
	}
}

// Connect はストリーミングパイプラインを開始する（冪等）
// プロファイルが深度モードを要求している場合は深度サブストリームも有効化する
func (d *DepthSensorDevice) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil // 既に接続済み
	}

	session, err := d.backend.Open(ctx, d.address, d.streamConfig(d.settings))
	if err != nil {
		d.lastError = err.Error()
		d.logger.Error().Err(err).Msg("深度センサーの接続に失敗")
		return fmt.Errorf("%w: %s", ErrConnect, err)
	}

	// センサー固有オプションは専用経路で適用する
	// 設定ツリーを持たないハードウェアクラスのためノード解決は使わない
	d.applyAdvancedOptions(ctx, session, d.advanced)

	d.session = session
	d.connected = true
	d.lastError = ""
	d.logger.Info().Str("address", d.address).Msg("深度センサーに接続しました")

	return nil
}

// applyAdvancedOptions はセンサー固有オプションを適用する
// 各オプションは独立に適用され、失敗はログに記録してスキップする
func (d *DepthSensorDevice) applyAdvancedOptions(ctx context.Context, session DepthSession, options map[string]any) {
	for name := range options {
		value := settingFloat(options, name, -1)
		if value < 0 {
			d.logger.Debug().Str("option", name).Msg("数値でないオプションをスキップ")
			continue
		}

		if err := session.SetOption(ctx, name, value); err != nil {
			d.logger.Warn().Err(err).Str("option", name).Msg("センサーオプションの適用に失敗")
			continue
		}

		d.logger.Debug().Str("option", name).Float64("value", value).Msg("センサーオプションを適用しました")
	}
}

// Disconnect はパイプラインを停止する（冪等）
func (d *DepthSensorDevice) Disconnect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil // 既に切断済み
	}

	err := d.session.Close()
	d.session = nil
	d.connected = false

	if err != nil {
		d.logger.Warn().Err(err).Msg("パイプラインの停止でエラー")
		return fmt.Errorf("%w: %s", ErrDisconnect, err)
	}

	d.logger.Info().Msg("深度センサーを切断しました")
	return nil
}

// waitBundle は同期済みフレーム束を限定リトライ付きで待つ
func (d *DepthSensorDevice) waitBundle(ctx context.Context, session DepthSession) (*FrameBundle, error) {
	var lastErr error
	for attempt := 0; attempt < depthBundleAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(depthBundleBackoff):
			}
		}

		bundle, err := session.WaitBundle(ctx)
		if err == nil {
			return bundle, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

// Capture はフレーム束からカラーサブストリームを取り出して保存する
// この呼び出し限りの設定がある場合は、保存済み設定に重ねた設定で
// パイプラインを一時的に開き直し、撮影後に元の設定へ戻す
func (d *DepthSensorDevice) Capture(ctx context.Context, opts CaptureOptions) (*CaptureResult, error) {
	if len(opts.Settings) > 0 {
		return d.captureTransient(ctx, opts)
	}

	d.mu.RLock()
	session := d.session
	connected := d.connected
	d.mu.RUnlock()

	if !connected {
		return nil, ErrNotConnected
	}

	bundle, err := d.waitBundle(ctx, session)
	if err != nil {
		d.setLastError(err.Error())
		d.logger.Error().Err(err).Msg("フレーム束の取得に失敗")
		return nil, fmt.Errorf("%w: %s", ErrCapture, err)
	}

	result, err := writeCaptureResult(bundle.ColorJPEG, opts, d.defaults)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCapture, err)
	}

	d.logger.Info().Str("file", result.Filename).Msg("撮影しました")
	return result, nil
}

// captureTransient はこの呼び出し限りの設定でパイプラインを開き直して撮影する
// パイプラインは同時に1本しか開けないため、入れ替えの間ロックを保持する
// 撮影の成否に関わらず保存済み設定のパイプラインへ戻し、
// 戻せなかった場合はデバイスを切断状態にする
func (d *DepthSensorDevice) captureTransient(ctx context.Context, opts CaptureOptions) (*CaptureResult, error) {
	merged := d.effectiveSettings(opts.Settings)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil, ErrNotConnected
	}

	_ = d.session.Close()
	d.session = nil

	transient, err := d.backend.Open(ctx, d.address, d.streamConfig(merged))
	if err != nil {
		d.connected = false
		d.lastError = err.Error()
		d.logger.Error().Err(err).Msg("撮影用パイプラインの開始に失敗")
		return nil, fmt.Errorf("%w: %s", ErrCapture, err)
	}

	// この呼び出し限りのセンサーオプションも一時パイプラインにのみ適用する
	options := make(map[string]any)
	for key, value := range opts.Settings {
		if _, ok := depthOptionControls[key]; ok {
			options[key] = value
		}
	}
	d.applyAdvancedOptions(ctx, transient, options)

	bundle, bundleErr := d.waitBundle(ctx, transient)
	_ = transient.Close()

	restored, restoreErr := d.backend.Open(ctx, d.address, d.streamConfig(d.settings))
	if restoreErr != nil {
		d.connected = false
		d.lastError = restoreErr.Error()
		d.logger.Error().Err(restoreErr).Msg("保存済み設定での再接続に失敗")
	} else {
		d.applyAdvancedOptions(ctx, restored, d.advanced)
		d.session = restored
	}

	if bundleErr != nil {
		d.lastError = bundleErr.Error()
		d.logger.Error().Err(bundleErr).Msg("フレーム束の取得に失敗")
		return nil, fmt.Errorf("%w: %s", ErrCapture, bundleErr)
	}

	result, err := writeCaptureResult(bundle.ColorJPEG, opts, d.defaults)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCapture, err)
	}

	d.logger.Info().Str("file", result.Filename).Msg("撮影しました")
	return result, nil
}

// PreviewFrame はフレーム束のカラーサブストリームを返す
func (d *DepthSensorDevice) PreviewFrame(ctx context.Context) ([]byte, error) {
	d.mu.RLock()
	session := d.session
	connected := d.connected
	d.mu.RUnlock()

	if !connected {
		return nil, ErrNotConnected
	}

	bundle, err := d.waitBundle(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPreview, err)
	}

	return bundle.ColorJPEG, nil
}

// UpdateSettings は設定をマージして適用する
// ストリーム形状の変更は接続中ならパイプラインを開き直す
// センサー固有オプションのキーは専用経路で適用する
func (d *DepthSensorDevice) UpdateSettings(ctx context.Context, patch map[string]any) error {
	d.mergeSettings(patch)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	// オプションのみの変更ならパイプラインは維持する
	geometryChanged := false
	for key := range patch {
		switch key {
		case "width", "height", "frame_rate", "depth_mode":
			geometryChanged = true
		}
	}

	if geometryChanged {
		_ = d.session.Close()
		session, err := d.backend.Open(ctx, d.address, d.streamConfig(d.settings))
		if err != nil {
			d.session = nil
			d.connected = false
			d.lastError = err.Error()
			d.logger.Error().Err(err).Msg("新しい設定での再接続に失敗")
			return fmt.Errorf("%w: %s", ErrSettings, err)
		}
		d.session = session
		d.logger.Info().Msg("パイプラインを開き直しました")
	}

	// センサー固有オプションとして知られているキーを適用する
	options := make(map[string]any)
	for key, value := range patch {
		if _, ok := depthOptionControls[key]; ok {
			options[key] = value
		}
	}
	d.applyAdvancedOptions(ctx, d.session, options)

	return nil
}

// Close は破棄時のフォールバック解放
func (d *DepthSensorDevice) Close() error {
	return d.Disconnect(context.Background())
}
