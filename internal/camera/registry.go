package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"satsuei/internal/profile"
)

// PreviewPacing は連続プレビューのペーシング設定
type PreviewPacing struct {
	FrameRate    int           // 目標フレームレート
	RetryBackoff time.Duration // フレーム取得失敗時の待機時間
}

// Registry はデバイスの列挙・プロファイル紐付け・ライフサイクルを管理する
// devicesマップとアクティブポインタはRegistryのメソッドのみが変更する
type Registry struct {
	profiles *profile.Store
	matcher  *profile.Matcher

	webcam   WebcamBackend
	tethered TetheredBackend
	depth    DepthBackend

	// availability はプロセス開始時に一度だけ記録される
	// 存在しないバックエンドは「その種別のデバイスは常に0台」として扱う
	availability map[profile.DeviceType]bool

	defaults CaptureDefaults
	pacing   PreviewPacing
	logger   zerolog.Logger

	mu       sync.Mutex
	devices  map[string]Device
	order    []string // 列挙順の保持用
	activeID string

	previewCancel context.CancelFunc
	previewWG     sync.WaitGroup
}

// NewRegistry は新しいRegistryを作成する
// 各バックエンドの利用可否はここで一度だけ評価される
func NewRegistry(profiles *profile.Store, matcher *profile.Matcher, webcam WebcamBackend, tethered TetheredBackend, depth DepthBackend, defaults CaptureDefaults, pacing PreviewPacing, logger zerolog.Logger) *Registry {
	availability := map[profile.DeviceType]bool{
		profile.TypeWebcam:             webcam != nil && webcam.Available(),
		profile.TypeTetheredPTP:        tethered != nil && tethered.Available(),
		profile.TypeTetheredMirrorless: tethered != nil && tethered.Available(),
		profile.TypeDepthSensor:        depth != nil && depth.Available(),
	}

	logger.Info().
		Bool("webcam", availability[profile.TypeWebcam]).
		Bool("tethered", availability[profile.TypeTetheredPTP]).
		Bool("depth", availability[profile.TypeDepthSensor]).
		Msg("バックエンドの利用可否を記録しました")

	return &Registry{
		profiles:     profiles,
		matcher:      matcher,
		webcam:       webcam,
		tethered:     tethered,
		depth:        depth,
		availability: availability,
		defaults:     defaults,
		pacing:       pacing,
		logger:       logger,
		devices:      make(map[string]Device),
	}
}

// Supported はデバイス種別に対応するバックエンドが利用可能かを返す
func (r *Registry) Supported(t profile.DeviceType) bool {
	return r.availability[t]
}

// Enumerate は全バックエンドで検出を実行し、デバイステーブルを丸ごと入れ替える
// 1つのバックエンドの失敗が他のバックエンドの列挙を妨げることはない
// 自動接続は行わない
func (r *Registry) Enumerate(ctx context.Context) ([]DeviceSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 旧テーブルのハンドルは入れ替え後に必ず解放する
	old := r.devices

	r.stopPreviewLocked()
	r.activeID = ""
	r.devices = make(map[string]Device)
	r.order = nil

	candidates, err := r.profiles.All()
	if err != nil {
		r.logger.Warn().Err(err).Msg("プロファイル一覧の取得に失敗")
		candidates = nil
	}

	active, err := r.profiles.GetActive()
	if err != nil {
		r.logger.Warn().Err(err).Msg("アクティブプロファイルの取得に失敗")
	}

	type backendEntry struct {
		kind profile.DeviceType
		scan func(context.Context) ([]profile.HardwareFacts, error)
	}

	backends := []backendEntry{}
	if r.availability[profile.TypeWebcam] {
		backends = append(backends, backendEntry{profile.TypeWebcam, r.webcam.Scan})
	}
	if r.availability[profile.TypeTetheredPTP] {
		backends = append(backends, backendEntry{profile.TypeTetheredPTP, r.tethered.Scan})
	}
	if r.availability[profile.TypeDepthSensor] {
		backends = append(backends, backendEntry{profile.TypeDepthSensor, r.depth.Scan})
	}

	for _, backend := range backends {
		facts, err := backend.scan(ctx)
		if err != nil {
			// バックエンドごとに失敗を隔離する
			r.logger.Error().Err(err).Str("kind", string(backend.kind)).Msg("バックエンドの列挙に失敗")
			continue
		}

		for _, f := range facts {
			device := r.buildDevice(f, candidates, active)
			if device == nil {
				continue
			}
			r.devices[device.ID()] = device
			r.order = append(r.order, device.ID())
		}
	}

	// 旧デバイスのハンドルを解放する
	// 明示的に切断されていなくてもここで確実に解放される
	for id, device := range old {
		if err := device.Close(); err != nil {
			r.logger.Warn().Err(err).Str("device", id).Msg("旧デバイスの解放でエラー")
		}
	}

	r.logger.Info().Int("count", len(r.devices)).Msg("デバイスを列挙しました")
	return r.summariesLocked(), nil
}

// buildDevice は検出結果からデバイスを構築する
// プロファイルはルール照合で解決し、一致がなければ
// 種別が合うアクティブプロファイル、さらになければ組み込みデフォルトを使う
func (r *Registry) buildDevice(facts profile.HardwareFacts, candidates []*profile.Profile, active *profile.Profile) Device {
	var matched *profile.Profile

	matchID := r.matcher.Match(facts, candidates, r.Supported)
	if matchID != "" {
		for _, p := range candidates {
			if p.ID == matchID {
				matched = p
				break
			}
		}
	} else if active != nil && kindCompatible(active.Type, facts.Kind) {
		matched = active
		r.logger.Debug().Str("profile", active.ID).Msg("アクティブプロファイルにフォールバック")
	}

	var settings, advanced map[string]any
	if matched != nil {
		settings = copyMap(matched.Settings)
		advanced = copyMap(matched.Advanced)
	}

	id := deviceID(facts)
	name := facts.Product
	if name == "" {
		name = facts.Model
	}
	if name == "" {
		name = fmt.Sprintf("%s %s", facts.Kind, facts.Address)
	}

	switch facts.Kind {
	case profile.TypeWebcam:
		return NewWebcamDevice(id, name, facts.Address, settings, r.webcam, r.defaults, r.logger)

	case profile.TypeTetheredPTP, profile.TypeTetheredMirrorless:
		kind := facts.Kind
		if matched != nil && matched.Type.IsTethered() {
			kind = matched.Type
		}
		return NewTetheredDevice(id, name, facts.Address, kind, settings, advanced, r.tethered, r.defaults, r.logger)

	case profile.TypeDepthSensor:
		return NewDepthSensorDevice(id, name, facts.Address, settings, advanced, r.depth, r.defaults, r.logger)

	default:
		r.logger.Warn().Str("kind", string(facts.Kind)).Msg("不明なデバイス種別")
		return nil
	}
}

// List は現在のデバイス一覧を列挙順で返す
func (r *Registry) List() []DeviceSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summariesLocked()
}

// summariesLocked はデバイス要約を列挙順で返す（ロック済み前提）
func (r *Registry) summariesLocked() []DeviceSummary {
	summaries := make([]DeviceSummary, 0, len(r.order))
	for _, id := range r.order {
		if device, exists := r.devices[id]; exists {
			summaries = append(summaries, device.Summary())
		}
	}
	return summaries
}

// Connect はデバイスに接続し、アクティブデバイスに設定する
// 既にアクティブなデバイスがある場合もポインタを上書きするだけで
// 自動切断は行わない（単一アクティブスロット設計）
func (r *Registry) Connect(ctx context.Context, id string) (DeviceSummary, error) {
	r.mu.Lock()
	device, exists := r.devices[id]
	r.mu.Unlock()

	if !exists {
		return DeviceSummary{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := device.Connect(ctx); err != nil {
		return device.Summary(), err
	}

	r.mu.Lock()
	r.activeID = id
	r.mu.Unlock()

	r.logger.Info().Str("device", id).Msg("アクティブデバイスを設定しました")
	return device.Summary(), nil
}

// Disconnect はデバイスを切断する
// idが空の場合はアクティブデバイスを対象とし、
// アクティブデバイスが未設定ならErrNoActiveDeviceを返す
// アクティブデバイスが切断された場合はポインタをクリアし、
// 実行中のプレビューストリームを停止する
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	if id == "" {
		id = r.activeID
	}
	if id == "" {
		r.mu.Unlock()
		return ErrNoActiveDevice
	}
	device, exists := r.devices[id]
	if id == r.activeID {
		r.stopPreviewLocked()
		r.activeID = ""
	}
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return device.Disconnect(ctx)
}

// activeDevice はアクティブデバイスを返す
func (r *Registry) activeDevice() (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeID == "" {
		return nil, ErrNoActiveDevice
	}

	device, exists := r.devices[r.activeID]
	if !exists {
		return nil, ErrNoActiveDevice
	}

	return device, nil
}

// Capture はアクティブデバイスで撮影する
// 撮影の過程でデバイスが切断された場合はアクティブポインタをクリアする
func (r *Registry) Capture(ctx context.Context, opts CaptureOptions) (*CaptureResult, error) {
	device, err := r.activeDevice()
	if err != nil {
		return nil, err
	}

	result, err := device.Capture(ctx, opts)

	if !device.Connected() {
		r.mu.Lock()
		if r.activeID == device.ID() {
			r.stopPreviewLocked()
			r.activeID = ""
		}
		r.mu.Unlock()
	}

	return result, err
}

// PreviewFrame はアクティブデバイスから1フレームを取得する
func (r *Registry) PreviewFrame(ctx context.Context) ([]byte, error) {
	device, err := r.activeDevice()
	if err != nil {
		return nil, err
	}
	return device.PreviewFrame(ctx)
}

// GetSettings はアクティブデバイスの設定を返す
func (r *Registry) GetSettings() (map[string]any, error) {
	device, err := r.activeDevice()
	if err != nil {
		return nil, err
	}
	return device.Summary().Settings, nil
}

// UpdateSettings はアクティブデバイスの設定を更新する
// 設定適用の過程でデバイスが切断された場合はアクティブポインタをクリアする
func (r *Registry) UpdateSettings(ctx context.Context, patch map[string]any) error {
	device, err := r.activeDevice()
	if err != nil {
		return err
	}

	err = device.UpdateSettings(ctx, patch)

	if !device.Connected() {
		r.mu.Lock()
		if r.activeID == device.ID() {
			r.stopPreviewLocked()
			r.activeID = ""
		}
		r.mu.Unlock()
	}

	return err
}

// StreamPreview は連続プレビューのフレームチャンネルを返す
// フレームは目標フレームレートにペーシングされ、取得失敗時は
// 短い待機の後リトライされる（ストリームは終了しない）
// 呼び出し側のコンテキストのキャンセル、またはアクティブデバイスの
// 切断で停止し、チャンネルはクローズされる
func (r *Registry) StreamPreview(ctx context.Context) (<-chan []byte, error) {
	device, err := r.activeDevice()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	// 既存のストリームは新しいストリームで置き換える
	r.stopPreviewLocked()
	streamCtx, cancel := context.WithCancel(ctx)
	r.previewCancel = cancel
	r.mu.Unlock()

	frames := make(chan []byte, 1)
	interval := time.Second / time.Duration(r.pacing.FrameRate)

	r.previewWG.Add(1)
	go func() {
		defer r.previewWG.Done()
		defer close(frames)

		r.logger.Info().Str("device", device.ID()).Msg("プレビューストリームを開始しました")
		defer r.logger.Info().Str("device", device.ID()).Msg("プレビューストリームを停止しました")

		for {
			select {
			case <-streamCtx.Done():
				return
			default:
			}

			start := time.Now()

			data, err := device.PreviewFrame(streamCtx)
			if err != nil || len(data) == 0 {
				// 失敗してもストリームは終了せず、待機してリトライする
				select {
				case <-streamCtx.Done():
					return
				case <-time.After(r.pacing.RetryBackoff):
				}
				continue
			}

			// チャンネルがフルの場合は古いフレームを破棄する
			select {
			case frames <- data:
			case <-streamCtx.Done():
				return
			default:
				select {
				case <-frames:
				default:
				}
				select {
				case frames <- data:
				case <-streamCtx.Done():
					return
				}
			}

			// フレーム間隔の残り時間だけ待機してペーシングする
			if elapsed := time.Since(start); elapsed < interval {
				select {
				case <-streamCtx.Done():
					return
				case <-time.After(interval - elapsed):
				}
			}
		}
	}()

	return frames, nil
}

// StopPreview は実行中のプレビューストリームを停止する
func (r *Registry) StopPreview() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopPreviewLocked()
}

// stopPreviewLocked はプレビューループを停止する（ロック済み前提）
func (r *Registry) stopPreviewLocked() {
	if r.previewCancel != nil {
		r.previewCancel()
		r.previewCancel = nil
	}
}

// Close は全デバイスのハンドルを解放してレジストリをリセットする
func (r *Registry) Close() error {
	r.mu.Lock()
	r.stopPreviewLocked()
	devices := r.devices
	r.devices = make(map[string]Device)
	r.order = nil
	r.activeID = ""
	r.mu.Unlock()

	r.previewWG.Wait()

	for id, device := range devices {
		if err := device.Close(); err != nil {
			r.logger.Warn().Err(err).Str("device", id).Msg("デバイスの解放でエラー")
		}
	}

	return nil
}

// ActiveID は現在のアクティブデバイスIDを返す（テスト・状態表示用）
func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// deviceID は種別とシリアル（無ければアドレス）から決定的なIDを導出する
// 同一プロセス内で安定するが、列挙をまたいだ安定は保証しない
func deviceID(facts profile.HardwareFacts) string {
	key := facts.Serial
	if key == "" {
		key = facts.Address
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(facts.Kind)+":"+key)).String()
}

// kindCompatible はプロファイル種別とデバイス種別の互換性を判定する
func kindCompatible(profileType, deviceKind profile.DeviceType) bool {
	if profileType == deviceKind {
		return true
	}
	return profileType.IsTethered() && deviceKind.IsTethered()
}

// copyMap は設定マップの浅いコピーを作成する
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
