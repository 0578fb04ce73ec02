package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"satsuei/internal/profile"
)

// mockJPEG はモックが返す最小のJPEGデータ
var mockJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xFF, 0xD9}

// MockWebcamBackend はテスト用のWebカメラバックエンド実装
type MockWebcamBackend struct {
	mu    sync.Mutex
	Facts []profile.HardwareFacts

	// テスト制御用
	shouldFailScan bool
	shouldFailOpen bool
	scanErr        error
	opened         []*MockWebcamSession
}

// NewMockWebcamBackend は新しいMockWebcamBackendを作成する
func NewMockWebcamBackend(facts ...profile.HardwareFacts) *MockWebcamBackend {
	return &MockWebcamBackend{Facts: facts}
}

func (m *MockWebcamBackend) Available() bool { return true }

func (m *MockWebcamBackend) Scan(_ context.Context) ([]profile.HardwareFacts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailScan {
		if m.scanErr != nil {
			return nil, m.scanErr
		}
		return nil, fmt.Errorf("モック: スキャンに失敗")
	}
	return m.Facts, nil
}

func (m *MockWebcamBackend) Open(_ context.Context, device string, settings WebcamSettings) (WebcamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailOpen {
		return nil, fmt.Errorf("モック: デバイス %s を開けません", device)
	}
	session := &MockWebcamSession{Device: device, Settings: settings}
	m.opened = append(m.opened, session)
	return session, nil
}

// SetShouldFailScan はテスト用にScan失敗を設定する
func (m *MockWebcamBackend) SetShouldFailScan(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailScan = shouldFail
}

// SetShouldFailOpen はテスト用にOpen失敗を設定する
func (m *MockWebcamBackend) SetShouldFailOpen(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOpen = shouldFail
}

// OpenedSessions は作成済みのセッション一覧を返す
func (m *MockWebcamBackend) OpenedSessions() []*MockWebcamSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockWebcamSession(nil), m.opened...)
}

// MockWebcamSession はテスト用のWebカメラセッション実装
type MockWebcamSession struct {
	Device   string
	Settings WebcamSettings

	mu             sync.Mutex
	closed         bool
	grabCount      int
	failGrabs      int // 先頭から何回GrabFrameを失敗させるか
	shouldFailGrab bool
}

func (m *MockWebcamSession) GrabFrame(_ context.Context, _ int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("モック: セッションは既にクローズ済み")
	}
	m.grabCount++
	if m.shouldFailGrab || m.grabCount <= m.failGrabs {
		return nil, fmt.Errorf("モック: フレーム取得に失敗")
	}
	return mockJPEG, nil
}

func (m *MockWebcamSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GrabCount はGrabFrameの呼び出し回数を返す
func (m *MockWebcamSession) GrabCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grabCount
}

// SetFailGrabs は先頭からn回のGrabFrameを失敗させる
func (m *MockWebcamSession) SetFailGrabs(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGrabs = n
}

// SetShouldFailGrab はテスト用にGrabFrame失敗を設定する
func (m *MockWebcamSession) SetShouldFailGrab(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailGrab = shouldFail
}

// Closed はセッションがクローズ済みかを返す
func (m *MockWebcamSession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockTetheredBackend はテスト用のテザー撮影バックエンド実装
type MockTetheredBackend struct {
	mu    sync.Mutex
	Facts []profile.HardwareFacts
	Tree  *ConfigNode

	shouldFailScan bool
	shouldFailOpen bool
	opened         []*MockTetheredSession
}

// NewMockTetheredBackend は新しいMockTetheredBackendを作成する
func NewMockTetheredBackend(facts ...profile.HardwareFacts) *MockTetheredBackend {
	return &MockTetheredBackend{Facts: facts}
}

func (m *MockTetheredBackend) Available() bool { return true }

func (m *MockTetheredBackend) Scan(_ context.Context) ([]profile.HardwareFacts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailScan {
		return nil, fmt.Errorf("モック: カメラ検出に失敗")
	}
	return m.Facts, nil
}

func (m *MockTetheredBackend) Open(_ context.Context, address string) (TetheredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailOpen {
		return nil, fmt.Errorf("モック: カメラ %s に接続できません", address)
	}
	session := &MockTetheredSession{Address: address, Tree: m.Tree, SetValues: make(map[string]string)}
	m.opened = append(m.opened, session)
	return session, nil
}

// SetShouldFailScan はテスト用にScan失敗を設定する
func (m *MockTetheredBackend) SetShouldFailScan(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailScan = shouldFail
}

// SetShouldFailOpen はテスト用にOpen失敗を設定する
func (m *MockTetheredBackend) SetShouldFailOpen(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOpen = shouldFail
}

// OpenedSessions は作成済みのセッション一覧を返す
func (m *MockTetheredBackend) OpenedSessions() []*MockTetheredSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockTetheredSession(nil), m.opened...)
}

// MockTetheredSession はテスト用のテザー撮影セッション実装
type MockTetheredSession struct {
	Address   string
	Tree      *ConfigNode
	SetValues map[string]string // SetConfigValueで設定された値の記録

	mu              sync.Mutex
	closed          bool
	previewCount    int
	failPreviews    int // 先頭から何回CapturePreviewを失敗させるか
	shouldFailSet   bool
	shouldFailTree  bool
	shouldFailImage bool
}

func (m *MockTetheredSession) ConfigTree(_ context.Context) (*ConfigNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailTree || m.Tree == nil {
		return nil, fmt.Errorf("モック: 設定ツリーの取得に失敗")
	}
	return m.Tree, nil
}

func (m *MockTetheredSession) SetConfigValue(_ context.Context, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailSet {
		return fmt.Errorf("モック: 設定 %s の変更に失敗", name)
	}
	m.SetValues[name] = fmt.Sprintf("%v", value)
	return nil
}

func (m *MockTetheredSession) CaptureImage(_ context.Context, destPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailImage {
		return fmt.Errorf("モック: 撮影に失敗")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(destPath, mockJPEG, 0644)
}

func (m *MockTetheredSession) CapturePreview(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previewCount++
	if m.previewCount <= m.failPreviews {
		return nil, fmt.Errorf("モック: プレビュー取得に失敗")
	}
	return mockJPEG, nil
}

func (m *MockTetheredSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// PreviewCount はCapturePreviewの呼び出し回数を返す
func (m *MockTetheredSession) PreviewCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previewCount
}

// SetFailPreviews は先頭からn回のCapturePreviewを失敗させる
func (m *MockTetheredSession) SetFailPreviews(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPreviews = n
}

// SetShouldFailSet はテスト用にSetConfigValue失敗を設定する
func (m *MockTetheredSession) SetShouldFailSet(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailSet = shouldFail
}

// SetShouldFailImage はテスト用にCaptureImage失敗を設定する
func (m *MockTetheredSession) SetShouldFailImage(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailImage = shouldFail
}

// SetValue はSetConfigValueで設定された値を返す
func (m *MockTetheredSession) SetValue(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.SetValues[name]
	return v, ok
}

// Closed はセッションがクローズ済みかを返す
func (m *MockTetheredSession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockDepthBackend はテスト用の深度センサーバックエンド実装
type MockDepthBackend struct {
	mu    sync.Mutex
	Facts []profile.HardwareFacts

	shouldFailScan bool
	shouldFailOpen bool
	opened         []*MockDepthSession
}

// NewMockDepthBackend は新しいMockDepthBackendを作成する
func NewMockDepthBackend(facts ...profile.HardwareFacts) *MockDepthBackend {
	return &MockDepthBackend{Facts: facts}
}

func (m *MockDepthBackend) Available() bool { return true }

func (m *MockDepthBackend) Scan(_ context.Context) ([]profile.HardwareFacts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailScan {
		return nil, fmt.Errorf("モック: センサー検出に失敗")
	}
	return m.Facts, nil
}

func (m *MockDepthBackend) Open(_ context.Context, address string, config DepthStreamConfig) (DepthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFailOpen {
		return nil, fmt.Errorf("モック: センサー %s を開けません", address)
	}
	session := &MockDepthSession{Address: address, Config: config, Options: make(map[string]float64)}
	m.opened = append(m.opened, session)
	return session, nil
}

// SetShouldFailScan はテスト用にScan失敗を設定する
func (m *MockDepthBackend) SetShouldFailScan(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailScan = shouldFail
}

// SetShouldFailOpen はテスト用にOpen失敗を設定する
func (m *MockDepthBackend) SetShouldFailOpen(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailOpen = shouldFail
}

// OpenedSessions は作成済みのセッション一覧を返す
func (m *MockDepthBackend) OpenedSessions() []*MockDepthSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockDepthSession(nil), m.opened...)
}

// MockDepthSession はテスト用の深度センサーセッション実装
type MockDepthSession struct {
	Address string
	Config  DepthStreamConfig
	Options map[string]float64 // SetOptionで設定された値の記録

	mu          sync.Mutex
	closed      bool
	bundleCount int
	failBundles int // 先頭から何回WaitBundleを失敗させるか
	failOption  bool
}

func (m *MockDepthSession) WaitBundle(_ context.Context) (*FrameBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundleCount++
	if m.bundleCount <= m.failBundles {
		return nil, fmt.Errorf("モック: フレームバンドルの取得に失敗")
	}
	bundle := &FrameBundle{ColorJPEG: mockJPEG}
	if m.Config.DepthMode {
		bundle.DepthRaw = []byte{0x00, 0x01, 0x02, 0x03}
	}
	return bundle, nil
}

func (m *MockDepthSession) SetOption(_ context.Context, name string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOption {
		return fmt.Errorf("モック: オプション %s の設定に失敗", name)
	}
	m.Options[name] = value
	return nil
}

func (m *MockDepthSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// BundleCount はWaitBundleの呼び出し回数を返す
func (m *MockDepthSession) BundleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bundleCount
}

// SetFailBundles は先頭からn回のWaitBundleを失敗させる
func (m *MockDepthSession) SetFailBundles(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failBundles = n
}

// SetShouldFailOption はテスト用にSetOption失敗を設定する
func (m *MockDepthSession) SetShouldFailOption(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOption = shouldFail
}

// Option はSetOptionで設定された値を返す
func (m *MockDepthSession) Option(name string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Options[name]
	return v, ok
}

// Closed はセッションがクローズ済みかを返す
func (m *MockDepthSession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
