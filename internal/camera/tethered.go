package camera

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"satsuei/internal/profile"
)

// プレビューフレームのリトライ設定
// 接続直後の最初のフレーム要求はハードウェアの安定待ちで
// 拒否されることが多いため、少数回のリトライを挟む
const (
	tetheredPreviewAttempts = 5
	tetheredPreviewBackoff  = 200 * time.Millisecond
)

// viewfinderAttempts はライブビュー有効化で順に試すノード名と値の組
// 対応していないモデルもあるため失敗は無視して次を試す
var viewfinderAttempts = []struct {
	node  string
	value string
}{
	{"viewfinder", "1"},
	{"eosviewfinder", "1"},
	{"liveviewsize", "Large"},
	{"output", "PC"},
	{"evfmode", "1"},
}

// TetheredDevice はPTP制御の一眼レフ・ミラーレスカメラのDevice実装
type TetheredDevice struct {
	baseDevice

	backend  TetheredBackend
	address  string
	advanced map[string]any // プロファイル由来のベンダー固有パラメータ
	defaults CaptureDefaults
	logger   zerolog.Logger

	session TetheredSession // 接続中のみ非nil
	tree    *ConfigNode     // 接続時に取得した設定ツリーのキャッシュ
}

// NewTetheredDevice は新しいTetheredDeviceを作成する
func NewTetheredDevice(id, name, address string, kind profile.DeviceType, settings, advanced map[string]any, backend TetheredBackend, defaults CaptureDefaults, logger zerolog.Logger) *TetheredDevice {
	if settings == nil {
		settings = make(map[string]any)
	}

	return &TetheredDevice{
		baseDevice: baseDevice{
			id:       id,
			name:     name,
			kind:     kind,
			settings: settings,
		},
		backend:  backend,
		address:  address,
		advanced: advanced,
		defaults: defaults,
		logger:   logger.With().Str("device", id).Logger(),
	}
}

// Connect はPTPセッションを開き、ライブビューと初期設定を適用する（冪等）
func (d *TetheredDevice) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil // 既に接続済み
	}

	session, err := d.backend.Open(ctx, d.address)
	if err != nil {
		d.lastError = err.Error()
		d.logger.Error().Err(err).Msg("PTPカメラの接続に失敗")
		return fmt.Errorf("%w: %s", ErrConnect, err)
	}

	// ライブビューの有効化を順に試す
	// すべてのモデルがライブビューを持つわけではないため失敗は無視する
	for _, attempt := range viewfinderAttempts {
		if err := session.SetConfigValue(ctx, attempt.node, attempt.value); err != nil {
			d.logger.Debug().Str("node", attempt.node).Msg("ライブビュー有効化の試行に失敗")
			continue
		}
		d.logger.Debug().Str("node", attempt.node).Msg("ライブビューを有効化しました")
	}

	// 設定ツリーを取得して初期設定を適用する
	// ツリー取得自体の失敗は接続を妨げない（設定なしで運用する）
	tree, err := session.ConfigTree(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("設定ツリーの取得に失敗")
	} else {
		d.tree = tree
		setter := func(node string, value any) error {
			return session.SetConfigValue(ctx, node, value)
		}
		applyTreeSettings(tree, d.settings, setter, d.logger)
		applyTreeSettings(tree, d.advanced, setter, d.logger)
	}

	d.session = session
	d.connected = true
	d.lastError = ""
	d.logger.Info().Str("address", d.address).Msg("PTPカメラに接続しました")

	return nil
}

// Disconnect はセッションを解放する（冪等）
func (d *TetheredDevice) Disconnect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil // 既に切断済み
	}

	err := d.session.Close()
	d.session = nil
	d.tree = nil
	d.connected = false

	if err != nil {
		d.logger.Warn().Err(err).Msg("セッションの解放でエラー")
		return fmt.Errorf("%w: %s", ErrDisconnect, err)
	}

	d.logger.Info().Msg("PTPカメラを切断しました")
	return nil
}

// Capture はシャッターシーケンスを実行して結果ファイルを保存する
func (d *TetheredDevice) Capture(ctx context.Context, opts CaptureOptions) (*CaptureResult, error) {
	d.mu.RLock()
	session := d.session
	tree := d.tree
	connected := d.connected
	d.mu.RUnlock()

	if !connected {
		return nil, ErrNotConnected
	}

	// 呼び出し限りの設定をツリー経由で適用する（保存済み設定は変更しない）
	if tree != nil && len(opts.Settings) > 0 {
		applyTreeSettings(tree, opts.Settings, func(node string, value any) error {
			return session.SetConfigValue(ctx, node, value)
		}, d.logger)
	}

	dir, err := resolveCaptureDir(opts, d.defaults)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCapture, err)
	}

	filename := captureFilename(time.Now())
	destPath := filepath.Join(dir, filename)

	if err := session.CaptureImage(ctx, destPath); err != nil {
		d.setLastError(err.Error())
		d.logger.Error().Err(err).Msg("シャッターシーケンスに失敗")
		return nil, fmt.Errorf("%w: %s", ErrCapture, err)
	}

	result := &CaptureResult{
		FilePath: destPath,
		Filename: filename,
	}
	if opts.Thumbnail {
		result.ThumbnailPath = thumbnailForFile(destPath, d.defaults)
	}

	d.logger.Info().Str("file", filename).Msg("撮影しました")
	return result, nil
}

// PreviewFrame はライブビューの1フレームを返す
// 接続直後は拒否されることがあるため限定的にリトライする
func (d *TetheredDevice) PreviewFrame(ctx context.Context) ([]byte, error) {
	d.mu.RLock()
	session := d.session
	connected := d.connected
	d.mu.RUnlock()

	if !connected {
		return nil, ErrNotConnected
	}

	var lastErr error
	for attempt := 0; attempt < tetheredPreviewAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s", ErrPreview, ctx.Err())
			case <-time.After(tetheredPreviewBackoff):
			}
		}

		data, err := session.CapturePreview(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %s", ErrPreview, lastErr)
}

// UpdateSettings は設定をマージし、変更キーを設定ツリー経由で適用する
// 解決できないキーは非致命的にスキップされる
func (d *TetheredDevice) UpdateSettings(ctx context.Context, patch map[string]any) error {
	d.mergeSettings(patch)

	d.mu.RLock()
	session := d.session
	tree := d.tree
	connected := d.connected
	d.mu.RUnlock()

	if !connected || tree == nil {
		return nil
	}

	applyTreeSettings(tree, patch, func(node string, value any) error {
		return session.SetConfigValue(ctx, node, value)
	}, d.logger)

	return nil
}

// Close は破棄時のフォールバック解放
func (d *TetheredDevice) Close() error {
	return d.Disconnect(context.Background())
}
