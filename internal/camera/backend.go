package camera

import (
	"context"

	"satsuei/internal/profile"
)

// バックエンドはデバイス種別ごとのネイティブ制御経路を抽象化する
// 実装はos/execベースの実機用と、テスト用のモックの2系統を持つ

// WebcamBackend はV4L2ウェブカメラの制御経路
type WebcamBackend interface {
	// Available はバックエンドがこのホストで利用可能かを返す
	// プロセス開始時に一度だけ評価される
	Available() bool

	// Scan は接続中のウェブカメラを列挙する
	Scan(ctx context.Context) ([]profile.HardwareFacts, error)

	// Open はフレーム取得セッションを開く
	Open(ctx context.Context, device string, settings WebcamSettings) (WebcamSession, error)
}

// WebcamSettings はウェブカメラのオープン時設定
type WebcamSettings struct {
	Width     int
	Height    int
	FrameRate int
}

// WebcamSession は開かれたウェブカメラのハンドル
type WebcamSession interface {
	// GrabFrame は1フレームをJPEGとして取得する
	// qualityはffmpegの-q:v相当（小さいほど高品質）
	GrabFrame(ctx context.Context, quality int) ([]byte, error)

	// Close はハンドルを解放する
	Close() error
}

// TetheredBackend はPTP制御カメラの制御経路
type TetheredBackend interface {
	Available() bool
	Scan(ctx context.Context) ([]profile.HardwareFacts, error)

	// Open はカメラへのPTPセッションを開く
	Open(ctx context.Context, address string) (TetheredSession, error)
}

// TetheredSession は開かれたPTPカメラのハンドル
type TetheredSession interface {
	// ConfigTree はベンダー固有の設定ツリーを取得する
	ConfigTree(ctx context.Context) (*ConfigNode, error)

	// SetConfigValue は設定ノードに値を書き込む
	SetConfigValue(ctx context.Context, nodeName string, value any) error

	// CaptureImage はシャッターを切り、結果ファイルをローカルに保存する
	CaptureImage(ctx context.Context, destPath string) error

	// CapturePreview はライブビューの1フレームを取得する
	CapturePreview(ctx context.Context) ([]byte, error)

	// Close はセッションを解放する
	Close() error
}

// DepthBackend は深度センサーカメラの制御経路
type DepthBackend interface {
	Available() bool
	Scan(ctx context.Context) ([]profile.HardwareFacts, error)

	// Open はストリーミングパイプラインを開始する
	Open(ctx context.Context, address string, config DepthStreamConfig) (DepthSession, error)
}

// DepthStreamConfig は深度センサーのパイプライン設定
type DepthStreamConfig struct {
	Width     int
	Height    int
	FrameRate int
	DepthMode bool // 深度サブストリームの有効化
}

// FrameBundle は同期済みフレームの束
// 深度ストリームが無効な場合DepthRawは空
type FrameBundle struct {
	ColorJPEG []byte
	DepthRaw  []byte
}

// DepthSession は開かれた深度センサーのハンドル
type DepthSession interface {
	// WaitBundle は同期済みフレーム束を1つ待つ
	WaitBundle(ctx context.Context) (*FrameBundle, error)

	// SetOption はセンサー固有の制御値を設定する
	// PTPカメラと異なり設定ツリーを持たないため専用経路で適用する
	SetOption(ctx context.Context, name string, value float64) error

	// Close はパイプラインを停止して解放する
	Close() error
}
