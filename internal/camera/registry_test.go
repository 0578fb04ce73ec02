package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"satsuei/internal/profile"
	"satsuei/internal/storage"
)

// newTestRegistry はテスト用のRegistryとプロファイルストアを作成する
func newTestRegistry(t *testing.T, webcam WebcamBackend, tethered TetheredBackend, depth DepthBackend) (*Registry, *profile.Store) {
	t.Helper()

	dir := t.TempDir()
	kv, err := storage.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("KVストアのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	store, err := profile.NewStore(filepath.Join(dir, "profiles"), kv, zerolog.Nop())
	if err != nil {
		t.Fatalf("プロファイルストアの作成に失敗: %v", err)
	}

	defaults := CaptureDefaults{
		PhotosDir:       filepath.Join(dir, "photos"),
		ThumbnailWidth:  320,
		ThumbnailHeight: 240,
	}
	pacing := PreviewPacing{FrameRate: 30, RetryBackoff: 5 * time.Millisecond}

	registry := NewRegistry(store, profile.NewMatcher(zerolog.Nop()), webcam, tethered, depth, defaults, pacing, zerolog.Nop())
	t.Cleanup(func() { registry.Close() })

	return registry, store
}

func webcamFacts(address, vendor, product string) profile.HardwareFacts {
	return profile.HardwareFacts{
		Kind:    profile.TypeWebcam,
		Address: address,
		Vendor:  vendor,
		Product: product,
	}
}

func tetheredFacts(address, vendor, model string) profile.HardwareFacts {
	return profile.HardwareFacts{
		Kind:    profile.TypeTetheredPTP,
		Address: address,
		Vendor:  vendor,
		Model:   model,
	}
}

func TestRegistryEnumerate(t *testing.T) {
	webcam := NewMockWebcamBackend(
		webcamFacts("/dev/video0", "Logitech", "HD Pro Webcam C920"),
		webcamFacts("/dev/video2", "Elgato", "Facecam"),
	)
	tethered := NewMockTetheredBackend(tetheredFacts("usb:001,004", "Canon", "EOS 90D"))

	registry, _ := newTestRegistry(t, webcam, tethered, nil)

	summaries, err := registry.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("列挙に失敗: %v", err)
	}

	if len(summaries) != 3 {
		t.Fatalf("デバイス数 = %d, 期待値 3", len(summaries))
	}

	// 自動接続は行わない
	for _, s := range summaries {
		if s.Connected {
			t.Errorf("列挙直後にデバイス %s が接続状態です", s.ID)
		}
	}
	if registry.ActiveID() != "" {
		t.Error("列挙直後にアクティブデバイスが設定されています")
	}
}

func TestRegistryEnumerateBackendFailureIsolated(t *testing.T) {
	webcam := NewMockWebcamBackend(webcamFacts("/dev/video0", "Logitech", "C920"))
	webcam.SetShouldFailScan(true)
	tethered := NewMockTetheredBackend(tetheredFacts("usb:001,004", "Canon", "EOS 90D"))

	registry, _ := newTestRegistry(t, webcam, tethered, nil)

	summaries, err := registry.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("列挙に失敗: %v", err)
	}

	// 1つのバックエンドの失敗は他のバックエンドに影響しない
	if len(summaries) != 1 {
		t.Fatalf("デバイス数 = %d, 期待値 1", len(summaries))
	}
	if summaries[0].Kind != profile.TypeTetheredPTP {
		t.Errorf("デバイス種別 = %s, 期待値 %s", summaries[0].Kind, profile.TypeTetheredPTP)
	}
}

func TestRegistryConnectKeepsPreviousConnected(t *testing.T) {
	webcam := NewMockWebcamBackend(webcamFacts("/dev/video0", "Logitech", "C920"))
	tethered := NewMockTetheredBackend(tetheredFacts("usb:001,004", "Canon", "EOS 90D"))

	registry, _ := newTestRegistry(t, webcam, tethered, nil)

	summaries, err := registry.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("列挙に失敗: %v", err)
	}

	var webcamID, tetheredID string
	for _, s := range summaries {
		switch s.Kind {
		case profile.TypeWebcam:
			webcamID = s.ID
		case profile.TypeTetheredPTP:
			tetheredID = s.ID
		}
	}

	if _, err := registry.Connect(context.Background(), webcamID); err != nil {
		t.Fatalf("Webカメラの接続に失敗: %v", err)
	}
	if _, err := registry.Connect(context.Background(), tetheredID); err != nil {
		t.Fatalf("テザーカメラの接続に失敗: %v", err)
	}

	// 最後に接続したデバイスがアクティブになる
	if registry.ActiveID() != tetheredID {
		t.Errorf("アクティブデバイス = %s, 期待値 %s", registry.ActiveID(), tetheredID)
	}

	// 先に接続したデバイスは切断されない（単一アクティブスロットは上書きのみ）
	for _, s := range registry.List() {
		if !s.Connected {
			t.Errorf("デバイス %s が切断されています", s.ID)
		}
	}
}

func TestRegistryConnectUnknown(t *testing.T) {
	registry, _ := newTestRegistry(t, NewMockWebcamBackend(), nil, nil)

	_, err := registry.Connect(context.Background(), "unknown-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("エラー = %v, 期待値 ErrNotFound", err)
	}
}

func TestRegistryNoActiveDevice(t *testing.T) {
	registry, _ := newTestRegistry(t, NewMockWebcamBackend(), nil, nil)

	if _, err := registry.Capture(context.Background(), CaptureOptions{}); !errors.Is(err, ErrNoActiveDevice) {
		t.Errorf("Captureのエラー = %v, 期待値 ErrNoActiveDevice", err)
	}
	if _, err := registry.PreviewFrame(context.Background()); !errors.Is(err, ErrNoActiveDevice) {
		t.Errorf("PreviewFrameのエラー = %v, 期待値 ErrNoActiveDevice", err)
	}
	if err := registry.UpdateSettings(context.Background(), map[string]any{"width": 640}); !errors.Is(err, ErrNoActiveDevice) {
		t.Errorf("UpdateSettingsのエラー = %v, 期待値 ErrNoActiveDevice", err)
	}
}

func TestRegistryCaptureDelegatesToActive(t *testing.T) {
	webcam := NewMockWebcamBackend(webcamFacts("/dev/video0", "Logitech", "C920"))
	registry, _ := newTestRegistry(t, webcam, nil, nil)

	summaries, _ := registry.Enumerate(context.Background())
	if _, err := registry.Connect(context.Background(), summaries[0].ID); err != nil {
		t.Fatalf("接続に失敗: %v", err)
	}

	result, err := registry.Capture(context.Background(), CaptureOptions{})
	if err != nil {
		t.Fatalf("撮影に失敗: %v", err)
	}

	if _, err := os.Stat(result.FilePath); err != nil {
		t.Errorf("撮影ファイルが存在しません: %v", err)
	}
}

func TestRegistryDisconnectActiveClearsPointer(t *testing.T) {
	webcam := NewMockWebcamBackend(webcamFacts("/dev/video0", "Logitech", "C920"))
	registry, _ := newTestRegistry(t, webcam, nil, nil)

	summaries, _ := registry.Enumerate(context.Background())
	if _, err := registry.Connect(context.Background(), summaries[0].ID); err != nil {
		t.Fatalf("接続に失敗: %v", err)
	}

	// 空のIDはアクティブデバイスを対象とする
	if err := registry.Disconnect(context.Background(), ""); err != nil {
		t.Fatalf("切断に失敗: %v", err)
	}

	if registry.ActiveID() != "" {
		t.Error("切断後もアクティブポインタが残っています")
	}
	if _, err := registry.Capture(context.Background(), CaptureOptions{}); !errors.Is(err, ErrNoActiveDevice) {
		t.Errorf("エラー = %v, 期待値 ErrNoActiveDevice", err)
	}
}

func TestRegistryEnumerateReplacesTable(t *testing.T) {
	webcam := NewMockWebcamBackend(webcamFacts("/dev/video0", "Logitech", "C920"))
	registry, _ := newTestRegistry(t, webcam, nil, nil)

	summaries, _ := registry.Enumerate(context.Background())
	if _, err := registry.Connect(context.Background(), summaries[0].ID); err != nil {
		t.Fatalf("接続に失敗: %v", err)
	}

	// 再列挙でテーブルは丸ごと入れ替わり、旧ハンドルは解放される
	if _, err := registry.Enumerate(context.Background()); err != nil {
		t.Fatalf("再列挙に失敗: %v", err)
	}

	if registry.ActiveID() != "" {
		t.Error("再列挙後もアクティブポインタが残っています")
	}

	sessions := webcam.OpenedSessions()
	if len(sessions) == 0 {
		t.Fatal("セッションが作成されていません")
	}
	if !sessions[0].Closed() {
		t.Error("旧デバイスのセッションが解放されていません")
	}
}

func TestRegistryProfileMatching(t *testing.T) {
	webcam := NewMockWebcamBackend(webcamFacts("/dev/video0", "Logitech", "HD Pro Webcam C920"))
	registry, store := newTestRegistry(t, webcam, nil, nil)

	_, err := store.Create(profile.Profile{
		Name: "Studio Webcam",
		Type: profile.TypeWebcam,
		Detection: profile.DetectionRule{
			Kind:    profile.RuleVendorProduct,
			Vendor:  "Logitech",
			Product: "C920",
		},
		Settings: map[string]any{"width": 640, "height": 480},
	})
	if err != nil {
		t.Fatalf("プロファイルの作成に失敗: %v", err)
	}

	summaries, err := registry.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("列挙に失敗: %v", err)
	}

	if len(summaries) != 1 {
		t.Fatalf("デバイス数 = %d, 期待値 1", len(summaries))
	}
	if got := summaries[0].Settings["width"]; got != 640 {
		t.Errorf("width = %v, 期待値 640 (プロファイル設定が適用されるべき)", got)
	}
}

func TestRegistryActiveProfileFallback(t *testing.T) {
	webcam := NewMockWebcamBackend(webcamFacts("/dev/video0", "Generic", "USB Camera"))
	tethered := NewMockTetheredBackend(tetheredFacts("usb:001,004", "Canon", "EOS 90D"))
	registry, store := newTestRegistry(t, webcam, tethered, nil)

	// ルールに一致しないWebカメラ用プロファイルをアクティブにする
	id, err := store.Create(profile.Profile{
		Name: "Fallback Webcam",
		Type: profile.TypeWebcam,
		Detection: profile.DetectionRule{
			Kind:    profile.RuleVendorProduct,
			Vendor:  "Logitech",
			Product: "C920",
		},
		Settings: map[string]any{"width": 800},
	})
	if err != nil {
		t.Fatalf("プロファイルの作成に失敗: %v", err)
	}
	if err := store.SetActive(id); err != nil {
		t.Fatalf("アクティブ設定に失敗: %v", err)
	}

	summaries, err := registry.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("列挙に失敗: %v", err)
	}

	for _, s := range summaries {
		switch s.Kind {
		case profile.TypeWebcam:
			// 種別が合うデバイスはアクティブプロファイルにフォールバックする
			if got := s.Settings["width"]; got != 800 {
				t.Errorf("Webカメラのwidth = %v, 期待値 800", got)
			}
		case profile.TypeTetheredPTP:
			// 種別が合わないデバイスは組み込みデフォルトのまま
			if _, ok := s.Settings["width"]; ok {
				t.Error("テザーカメラにWebカメラ用プロファイルが適用されています")
			}
		}
	}
}

func TestRegistryStreamPreviewSurvivesFailures(t *testing.T) {
	webcam := NewMockWebcamBackend(webcamFacts("/dev/video0", "Logitech", "C920"))
	registry, _ := newTestRegistry(t, webcam, nil, nil)

	summaries, _ := registry.Enumerate(context.Background())
	if _, err := registry.Connect(context.Background(), summaries[0].ID); err != nil {
		t.Fatalf("接続に失敗: %v", err)
	}

	sessions := webcam.OpenedSessions()
	if len(sessions) == 0 {
		t.Fatal("セッションが作成されていません")
	}
	// 連続5回の取得失敗後に回復する
	sessions[len(sessions)-1].SetFailGrabs(5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames, err := registry.StreamPreview(ctx)
	if err != nil {
		t.Fatalf("ストリーム開始に失敗: %v", err)
	}

	select {
	case frame, ok := <-frames:
		if !ok {
			t.Fatal("フレーム受信前にストリームが終了しました")
		}
		if len(frame) == 0 {
			t.Error("空のフレームを受信しました")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("フレーム受信がタイムアウトしました")
	}
}

func TestRegistryStreamPreviewStopsOnDisconnect(t *testing.T) {
	webcam := NewMockWebcamBackend(webcamFacts("/dev/video0", "Logitech", "C920"))
	registry, _ := newTestRegistry(t, webcam, nil, nil)

	summaries, _ := registry.Enumerate(context.Background())
	if _, err := registry.Connect(context.Background(), summaries[0].ID); err != nil {
		t.Fatalf("接続に失敗: %v", err)
	}

	frames, err := registry.StreamPreview(context.Background())
	if err != nil {
		t.Fatalf("ストリーム開始に失敗: %v", err)
	}

	// アクティブデバイスの切断でストリームは停止する
	if err := registry.Disconnect(context.Background(), ""); err != nil {
		t.Fatalf("切断に失敗: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return // チャンネルがクローズされた
			}
		case <-deadline:
			t.Fatal("ストリームの停止がタイムアウトしました")
		}
	}
}

func TestRegistryUpdateSettingsFailureClearsActive(t *testing.T) {
	webcam := NewMockWebcamBackend(webcamFacts("/dev/video0", "Logitech", "C920"))
	registry, _ := newTestRegistry(t, webcam, nil, nil)

	summaries, _ := registry.Enumerate(context.Background())
	if _, err := registry.Connect(context.Background(), summaries[0].ID); err != nil {
		t.Fatalf("接続に失敗: %v", err)
	}

	// 設定適用時の開き直しを失敗させる
	webcam.SetShouldFailOpen(true)
	err := registry.UpdateSettings(context.Background(), map[string]any{"width": 640})
	if !errors.Is(err, ErrSettings) {
		t.Fatalf("エラー = %v, 期待値 ErrSettings", err)
	}

	// 切断されたデバイスはアクティブポインタから外れる
	if registry.ActiveID() != "" {
		t.Error("切断後もアクティブポインタが残っています")
	}
}

func TestRegistryDisconnectNoActive(t *testing.T) {
	webcam := NewMockWebcamBackend(webcamFacts("/dev/video0", "Logitech", "C920"))
	registry, _ := newTestRegistry(t, webcam, nil, nil)

	if _, err := registry.Enumerate(context.Background()); err != nil {
		t.Fatalf("列挙に失敗: %v", err)
	}

	// アクティブデバイスがない状態での空ID切断
	if err := registry.Disconnect(context.Background(), ""); !errors.Is(err, ErrNoActiveDevice) {
		t.Errorf("エラー = %v, 期待値 ErrNoActiveDevice", err)
	}
}

func TestRegistryCaptureFailureClearsActive(t *testing.T) {
	depth := NewMockDepthBackend(profile.HardwareFacts{
		Kind:    profile.TypeDepthSensor,
		Address: "/dev/video4",
		Product: "RealSense D435",
		Serial:  "923322071234",
	})
	registry, _ := newTestRegistry(t, nil, nil, depth)

	summaries, _ := registry.Enumerate(context.Background())
	if _, err := registry.Connect(context.Background(), summaries[0].ID); err != nil {
		t.Fatalf("接続に失敗: %v", err)
	}

	// 呼び出し限りの設定はパイプラインの入れ替えを要し、
	// 入れ替えに失敗するとデバイスは切断状態になる
	depth.SetShouldFailOpen(true)
	opts := CaptureOptions{Settings: map[string]any{"width": 640}}
	if _, err := registry.Capture(context.Background(), opts); !errors.Is(err, ErrCapture) {
		t.Fatalf("エラー = %v, 期待値 ErrCapture", err)
	}

	// 切断されたデバイスはアクティブポインタから外れる
	if registry.ActiveID() != "" {
		t.Error("撮影失敗で切断された後もアクティブポインタが残っています")
	}
}

func TestDeviceID(t *testing.T) {
	factsA := profile.HardwareFacts{Kind: profile.TypeWebcam, Address: "/dev/video0", Serial: "ABC123"}
	factsB := profile.HardwareFacts{Kind: profile.TypeWebcam, Address: "/dev/video2", Serial: "ABC123"}
	factsC := profile.HardwareFacts{Kind: profile.TypeDepthSensor, Address: "/dev/video0", Serial: "ABC123"}

	// シリアルが同じならアドレスが変わってもIDは安定する
	if deviceID(factsA) != deviceID(factsB) {
		t.Error("同一シリアルのIDが一致しません")
	}
	// 種別が異なればIDも異なる
	if deviceID(factsA) == deviceID(factsC) {
		t.Error("異なる種別のIDが一致しています")
	}

	// シリアルが無い場合はアドレスで導出する
	noSerialA := profile.HardwareFacts{Kind: profile.TypeWebcam, Address: "/dev/video0"}
	noSerialB := profile.HardwareFacts{Kind: profile.TypeWebcam, Address: "/dev/video2"}
	if deviceID(noSerialA) == deviceID(noSerialB) {
		t.Error("異なるアドレスのIDが一致しています")
	}
	if deviceID(noSerialA) != deviceID(noSerialA) {
		t.Error("IDが決定的ではありません")
	}
}

func TestKindCompatible(t *testing.T) {
	tests := []struct {
		profileType profile.DeviceType
		deviceKind  profile.DeviceType
		want        bool
	}{
		{profile.TypeWebcam, profile.TypeWebcam, true},
		{profile.TypeTetheredPTP, profile.TypeTetheredMirrorless, true},
		{profile.TypeTetheredMirrorless, profile.TypeTetheredPTP, true},
		{profile.TypeWebcam, profile.TypeDepthSensor, false},
		{profile.TypeWebcam, profile.TypeTetheredPTP, false},
	}

	for _, tt := range tests {
		if got := kindCompatible(tt.profileType, tt.deviceKind); got != tt.want {
			t.Errorf("kindCompatible(%s, %s) = %v, 期待値 %v", tt.profileType, tt.deviceKind, got, tt.want)
		}
	}
}
