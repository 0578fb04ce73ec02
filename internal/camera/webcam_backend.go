package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"satsuei/internal/profile"
)

// v4l2NativeTimeout はネイティブ呼び出し1回あたりの上限時間
const v4l2NativeTimeout = 5 * time.Second

// FFmpegWebcamBackend はffmpegとv4l2-ctlを使ったウェブカメラバックエンド
type FFmpegWebcamBackend struct {
	available bool
}

// NewFFmpegWebcamBackend は新しいFFmpegWebcamBackendを作成する
// 必要なコマンドの存在はここで一度だけ確認される
func NewFFmpegWebcamBackend() *FFmpegWebcamBackend {
	_, ffmpegErr := exec.LookPath("ffmpeg")
	_, v4l2Err := exec.LookPath("v4l2-ctl")

	return &FFmpegWebcamBackend{
		available: ffmpegErr == nil && v4l2Err == nil,
	}
}

// Available はバックエンドの利用可否を返す
func (b *FFmpegWebcamBackend) Available() bool {
	return b.available
}

// Scan は/dev/video*からカラーフォーマット対応のデバイスを列挙する
func (b *FFmpegWebcamBackend) Scan(ctx context.Context) ([]profile.HardwareFacts, error) {
	if !b.available {
		return nil, fmt.Errorf("%w: ffmpeg/v4l2-ctl", ErrBackendUnavailable)
	}

	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var facts []profile.HardwareFacts
	seen := make(map[string]bool) // 同一カメラの複数チャンネル排除用

	for _, device := range matches {
		select {
		case <-ctx.Done():
			return facts, ctx.Err()
		default:
		}

		if !b.isColorCapable(ctx, device) {
			continue
		}

		name := b.deviceCardName(ctx, device)
		if name == "" {
			name = fmt.Sprintf("Webcam %d", extractDeviceNumber(device))
		}

		// 同じカメラ名の2つ目以降のノードはメタデータチャンネルとして除外
		if seen[name] {
			continue
		}
		seen[name] = true

		facts = append(facts, profile.HardwareFacts{
			Vendor:  firstToken(name),
			Model:   name,
			Product: name,
			Kind:    profile.TypeWebcam,
			Address: device,
		})
	}

	return facts, nil
}

// Open はフレーム取得セッションを開く
// オープン時にテストキャプチャを行い、デバイスの動作を確認する
func (b *FFmpegWebcamBackend) Open(ctx context.Context, device string, settings WebcamSettings) (WebcamSession, error) {
	if !b.available {
		return nil, fmt.Errorf("%w: ffmpeg/v4l2-ctl", ErrBackendUnavailable)
	}

	session := &ffmpegWebcamSession{
		device:   device,
		settings: settings,
	}

	// テストキャプチャで利用可能性を確認
	testCtx, cancel := context.WithTimeout(ctx, v4l2NativeTimeout*2)
	defer cancel()
	if _, err := session.GrabFrame(testCtx, 5); err != nil {
		return nil, fmt.Errorf("テストキャプチャに失敗: %w", err)
	}

	return session, nil
}

// isColorCapable はカラーフォーマット対応のデバイスかを判定する
func (b *FFmpegWebcamBackend) isColorCapable(ctx context.Context, device string) bool {
	cmdCtx, cancel := context.WithTimeout(ctx, v4l2NativeTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "v4l2-ctl", "--device", device, "--list-formats-ext")
	output, err := cmd.Output()
	if err != nil {
		return false
	}

	outputStr := string(output)
	return strings.Contains(outputStr, "YUYV") || strings.Contains(outputStr, "MJPG")
}

// deviceCardName はv4l2-ctlからカメラの実名を取得する
func (b *FFmpegWebcamBackend) deviceCardName(ctx context.Context, device string) string {
	cmdCtx, cancel := context.WithTimeout(ctx, v4l2NativeTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "v4l2-ctl", "--device", device, "--info")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}

	// "Card type" の行からカメラ名を抽出
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Card type") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}

	return ""
}

// ffmpegWebcamSession はffmpegによるフレーム取得セッション
// フレームごとにffmpegを起動するため保持するネイティブ資源はない
type ffmpegWebcamSession struct {
	device   string
	settings WebcamSettings
}

// GrabFrame はffmpegで1フレームをJPEGとしてキャプチャする
func (s *ffmpegWebcamSession) GrabFrame(ctx context.Context, quality int) ([]byte, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, v4l2NativeTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", s.settings.Width, s.settings.Height),
		"-i", s.device,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(quality),
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("フレームキャプチャに失敗: %w (stderr: %s)", err, truncate(stderr.String(), 200))
	}

	return stdout.Bytes(), nil
}

// Close はセッションを解放する
func (s *ffmpegWebcamSession) Close() error {
	return nil
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	re := regexp.MustCompile(`video(\d+)`)
	matches := re.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}

	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}

	return num
}

// firstToken は文字列の最初の空白区切りトークンを返す
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

// truncate はログ用に文字列を切り詰める
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
