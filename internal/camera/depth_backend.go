package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"satsuei/internal/profile"
)

// depthNativeTimeout はネイティブ呼び出し1回あたりの上限時間
const depthNativeTimeout = 5 * time.Second

// RealSenseDepthBackend はRealSenseツールとffmpegを使った深度センサーバックエンド
// カラーストリームはセンサーが公開するUVCノードから取得し、
// センサー固有の制御はv4l2コントロール経由で適用する
type RealSenseDepthBackend struct {
	available bool
}

// NewRealSenseDepthBackend は新しいRealSenseDepthBackendを作成する
func NewRealSenseDepthBackend() *RealSenseDepthBackend {
	_, rsErr := exec.LookPath("rs-enumerate-devices")
	_, ffmpegErr := exec.LookPath("ffmpeg")

	return &RealSenseDepthBackend{
		available: rsErr == nil && ffmpegErr == nil,
	}
}

// Available はバックエンドの利用可否を返す
func (b *RealSenseDepthBackend) Available() bool {
	return b.available
}

// Scan はrs-enumerate-devicesで深度センサーを列挙する
func (b *RealSenseDepthBackend) Scan(ctx context.Context) ([]profile.HardwareFacts, error) {
	if !b.available {
		return nil, fmt.Errorf("%w: rs-enumerate-devices", ErrBackendUnavailable)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, depthNativeTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "rs-enumerate-devices")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("深度センサーの列挙に失敗: %w", err)
	}

	return parseRealSenseDevices(string(output)), nil
}

// parseRealSenseDevices はrs-enumerate-devicesの出力を解析する
// "Device info:" ブロックごとにName/Serial Number/Physical Portを読み取る
func parseRealSenseDevices(output string) []profile.HardwareFacts {
	var facts []profile.HardwareFacts

	var name, serial, port string
	flush := func() {
		if name == "" {
			return
		}
		facts = append(facts, profile.HardwareFacts{
			Vendor:  firstToken(name),
			Model:   name,
			Product: name,
			Kind:    profile.TypeDepthSensor,
			Address: videoNodeFromPort(port),
			Serial:  serial,
		})
		name, serial, port = "", "", ""
	}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "Device info:") {
			flush()
			continue
		}

		key, value, found := strings.Cut(trimmed, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "Name":
			name = value
		case "Serial Number":
			if serial == "" {
				serial = value
			}
		case "Physical Port":
			if port == "" {
				port = value
			}
		}
	}
	flush()

	return facts
}

// videoNodeFromPort は物理ポートパスから/dev/videoノードを導出する
func videoNodeFromPort(port string) string {
	// パスには video4linux ディレクトリも含まれるため最後の一致を採用する
	re := regexp.MustCompile(`video(\d+)`)
	matches := re.FindAllStringSubmatch(port, -1)
	if len(matches) == 0 {
		return ""
	}
	return "/dev/video" + matches[len(matches)-1][1]
}

// Open はストリーミングパイプラインを開始する
func (b *RealSenseDepthBackend) Open(ctx context.Context, address string, config DepthStreamConfig) (DepthSession, error) {
	if !b.available {
		return nil, fmt.Errorf("%w: rs-enumerate-devices", ErrBackendUnavailable)
	}

	if address == "" {
		return nil, fmt.Errorf("カラーストリームのノードが特定できません")
	}

	session := &realSenseSession{
		colorNode: address,
		config:    config,
	}

	// カラーストリームの動作確認
	testCtx, cancel := context.WithTimeout(ctx, depthNativeTimeout*2)
	defer cancel()
	if _, err := session.grabColor(testCtx); err != nil {
		return nil, fmt.Errorf("カラーストリームの開始に失敗: %w", err)
	}

	return session, nil
}

// realSenseSession は開かれた深度センサーのパイプライン
type realSenseSession struct {
	colorNode string
	config    DepthStreamConfig
}

// WaitBundle は同期済みフレーム束を1つ待つ
// 深度モードが無効な場合はカラーフレームのみを返す
func (s *realSenseSession) WaitBundle(ctx context.Context) (*FrameBundle, error) {
	color, err := s.grabColor(ctx)
	if err != nil {
		return nil, err
	}

	bundle := &FrameBundle{ColorJPEG: color}

	if s.config.DepthMode {
		// 深度サブストリームは取得できない環境もあるため失敗は許容する
		if depth, err := s.grabDepth(ctx); err == nil {
			bundle.DepthRaw = depth
		}
	}

	return bundle, nil
}

// grabColor はカラーノードから1フレームをJPEGとして取得する
func (s *realSenseSession) grabColor(ctx context.Context) ([]byte, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, depthNativeTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", s.config.Width, s.config.Height),
		"-i", s.colorNode,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("カラーフレームの取得に失敗: %w (stderr: %s)", err, truncate(stderr.String(), 200))
	}

	return stdout.Bytes(), nil
}

// grabDepth は深度ノードから生フレームを取得する
// RealSenseはカラーノードの隣に深度用のUVCノードを公開する
func (s *realSenseSession) grabDepth(ctx context.Context) ([]byte, error) {
	depthNode := siblingVideoNode(s.colorNode, -2)
	if depthNode == "" {
		return nil, fmt.Errorf("深度ノードが特定できません")
	}

	cmdCtx, cancel := context.WithTimeout(ctx, depthNativeTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", s.config.Width, s.config.Height),
		"-i", depthNode,
		"-vframes", "1",
		"-f", "rawvideo",
		"-",
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("深度フレームの取得に失敗: %w", err)
	}

	return stdout.Bytes(), nil
}

// SetOption はセンサー固有の制御値をv4l2コントロールとして設定する
func (s *realSenseSession) SetOption(ctx context.Context, name string, value float64) error {
	control, ok := depthOptionControls[name]
	if !ok {
		return fmt.Errorf("%w: 不明なセンサーオプション %s", ErrSettings, name)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, depthNativeTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "v4l2-ctl",
		"--device", s.colorNode,
		"--set-ctrl", fmt.Sprintf("%s=%s", control, strconv.FormatFloat(value, 'f', -1, 64)),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("センサーオプション %s の設定に失敗: %w (%s)", name, err, truncate(string(output), 200))
	}

	return nil
}

// depthOptionControls はセンサーオプション名からv4l2コントロール名への対応表
var depthOptionControls = map[string]string{
	"emitter_enabled": "emitter_enabled",
	"laser_power":     "laser_power",
	"depth_units":     "depth_units",
	"exposure":        "exposure_absolute",
	"gain":            "gain",
}

// Close はパイプラインを停止して解放する
func (s *realSenseSession) Close() error {
	return nil
}

// siblingVideoNode は同じ物理デバイスの別ノードパスを導出する
func siblingVideoNode(node string, offset int) string {
	num := extractDeviceNumber(node)
	sibling := num + offset
	if sibling < 0 {
		return ""
	}
	return "/dev/video" + strconv.Itoa(sibling)
}
