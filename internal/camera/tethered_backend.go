package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"satsuei/internal/profile"
)

// ネイティブ呼び出しの上限時間
// PTPのシャッターシーケンスはファイル転送を含むため長めに取る
const (
	gphotoNativeTimeout  = 5 * time.Second
	gphotoCaptureTimeout = 20 * time.Second
)

// GphotoTetheredBackend はgphoto2 CLIを使ったPTPカメラバックエンド
type GphotoTetheredBackend struct {
	available bool
}

// NewGphotoTetheredBackend は新しいGphotoTetheredBackendを作成する
func NewGphotoTetheredBackend() *GphotoTetheredBackend {
	_, err := exec.LookPath("gphoto2")
	return &GphotoTetheredBackend{available: err == nil}
}

// Available はバックエンドの利用可否を返す
func (b *GphotoTetheredBackend) Available() bool {
	return b.available
}

// Scan はgphoto2 --auto-detectでPTPカメラを列挙する
func (b *GphotoTetheredBackend) Scan(ctx context.Context) ([]profile.HardwareFacts, error) {
	if !b.available {
		return nil, fmt.Errorf("%w: gphoto2", ErrBackendUnavailable)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, gphotoNativeTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "gphoto2", "--auto-detect")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("PTPカメラの列挙に失敗: %w", err)
	}

	return parseAutoDetect(string(output)), nil
}

// parseAutoDetect は--auto-detectの出力を解析する
// 出力形式:
//
//	Model                          Port
//	----------------------------------------------------------
//	Canon EOS 90D                  usb:001,004
func parseAutoDetect(output string) []profile.HardwareFacts {
	var facts []profile.HardwareFacts

	lines := strings.Split(output, "\n")
	for i, line := range lines {
		// ヘッダー2行をスキップ
		if i < 2 {
			continue
		}

		line = strings.TrimRight(line, " \r")
		if line == "" {
			continue
		}

		// ポート列は行末のusb:...またはptpip:...
		idx := strings.LastIndex(line, "usb:")
		if idx == -1 {
			idx = strings.LastIndex(line, "ptpip:")
		}
		if idx == -1 {
			continue
		}

		model := strings.TrimSpace(line[:idx])
		port := strings.TrimSpace(line[idx:])
		if model == "" || port == "" {
			continue
		}

		facts = append(facts, profile.HardwareFacts{
			Vendor:  firstToken(model),
			Model:   model,
			Product: model,
			Kind:    profile.TypeTetheredPTP,
			Address: port,
		})
	}

	return facts
}

// Open はカメラへのPTPセッションを開く
// セッションの有効性はサマリー取得で確認する
func (b *GphotoTetheredBackend) Open(ctx context.Context, address string) (TetheredSession, error) {
	if !b.available {
		return nil, fmt.Errorf("%w: gphoto2", ErrBackendUnavailable)
	}

	session := &gphotoSession{port: address}

	cmdCtx, cancel := context.WithTimeout(ctx, gphotoNativeTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "gphoto2", "--port", address, "--summary")
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("カメラへの接続に失敗: %w (%s)", err, truncate(string(output), 200))
	}

	return session, nil
}

// gphotoSession はgphoto2によるPTPセッション
type gphotoSession struct {
	port string
}

// ConfigTree は--list-all-configの出力から設定ツリーを構築する
func (s *gphotoSession) ConfigTree(ctx context.Context) (*ConfigNode, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, gphotoCaptureTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "gphoto2", "--port", s.port, "--list-all-config")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("設定ツリーの取得に失敗: %w", err)
	}

	return parseConfigTree(string(output)), nil
}

// parseConfigTree は--list-all-configの出力をツリーに変換する
// 各エントリは /main/section/name のパス行に続いて
// Label:/Type:/Current:/Choice:/Readonly: 行を持ち、ENDで終わる
func parseConfigTree(output string) *ConfigNode {
	root := &ConfigNode{Name: "main", Type: NodeSection}

	var current *ConfigNode
	var currentPath []string

	flush := func() {
		if current == nil {
			return
		}
		attachNode(root, currentPath, current)
		current = nil
		currentPath = nil
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")

		switch {
		case strings.HasPrefix(line, "/"):
			flush()
			segments := strings.Split(strings.TrimPrefix(line, "/"), "/")
			if len(segments) < 2 || segments[0] != "main" {
				continue
			}
			current = &ConfigNode{
				Name: segments[len(segments)-1],
				Type: NodeText,
			}
			currentPath = segments[1 : len(segments)-1]

		case current == nil:
			continue

		case strings.HasPrefix(line, "Label:"):
			current.Label = strings.TrimSpace(strings.TrimPrefix(line, "Label:"))

		case strings.HasPrefix(line, "Type:"):
			current.Type = convertGphotoType(strings.TrimSpace(strings.TrimPrefix(line, "Type:")))

		case strings.HasPrefix(line, "Current:"):
			current.Value = strings.TrimSpace(strings.TrimPrefix(line, "Current:"))

		case strings.HasPrefix(line, "Choice:"):
			// "Choice: 0 100" の形式から値部分を取り出す
			choice := strings.TrimSpace(strings.TrimPrefix(line, "Choice:"))
			if idx := strings.Index(choice, " "); idx != -1 {
				choice = choice[idx+1:]
			}
			current.Choices = append(current.Choices, choice)

		case strings.HasPrefix(line, "Readonly:"):
			current.ReadOnly = strings.TrimSpace(strings.TrimPrefix(line, "Readonly:")) == "1"

		case line == "END":
			flush()
		}
	}
	flush()

	return root
}

// attachNode はパスに沿ってセクションを作りながらノードを取り付ける
func attachNode(root *ConfigNode, path []string, node *ConfigNode) {
	parent := root
	for _, segment := range path {
		var section *ConfigNode
		for _, child := range parent.Children {
			if child.Name == segment && child.Type == NodeSection {
				section = child
				break
			}
		}
		if section == nil {
			section = &ConfigNode{Name: segment, Type: NodeSection}
			parent.Children = append(parent.Children, section)
		}
		parent = section
	}
	parent.Children = append(parent.Children, node)
}

// convertGphotoType はgphoto2のウィジェット種別を変換する
func convertGphotoType(t string) NodeType {
	switch t {
	case "RADIO", "MENU":
		return NodeChoice
	case "TOGGLE":
		return NodeToggle
	case "SECTION", "WINDOW":
		return NodeSection
	default:
		return NodeText
	}
}

// SetConfigValue は設定ノードに値を書き込む
func (s *gphotoSession) SetConfigValue(ctx context.Context, nodeName string, value any) error {
	cmdCtx, cancel := context.WithTimeout(ctx, gphotoNativeTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "gphoto2",
		"--port", s.port,
		"--set-config", fmt.Sprintf("%s=%v", nodeName, value),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("設定 %s の書き込みに失敗: %w (%s)", nodeName, err, truncate(string(output), 200))
	}

	return nil
}

// CaptureImage はシャッターを切り、結果ファイルを取得して保存する
func (s *gphotoSession) CaptureImage(ctx context.Context, destPath string) error {
	cmdCtx, cancel := context.WithTimeout(ctx, gphotoCaptureTimeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "gphoto2",
		"--port", s.port,
		"--capture-image-and-download",
		"--filename", destPath,
		"--force-overwrite",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("シャッターシーケンスに失敗: %w (stderr: %s)", err, truncate(stderr.String(), 200))
	}

	if _, err := os.Stat(destPath); err != nil {
		return fmt.Errorf("撮影ファイルの取得に失敗: %w", err)
	}

	return nil
}

// CapturePreview はライブビューの1フレームを取得する
func (s *gphotoSession) CapturePreview(ctx context.Context) ([]byte, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, gphotoNativeTimeout)
	defer cancel()

	// gphoto2はプレビューをファイルにしか書けないため一時ファイルを経由する
	tmpDir, err := os.MkdirTemp("", "satsuei-preview-")
	if err != nil {
		return nil, fmt.Errorf("一時ディレクトリの作成に失敗: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	tmpPath := filepath.Join(tmpDir, "preview.jpg")

	cmd := exec.CommandContext(cmdCtx, "gphoto2",
		"--port", s.port,
		"--capture-preview",
		"--filename", tmpPath,
		"--force-overwrite",
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("プレビューフレームの取得に失敗: %w (%s)", err, truncate(string(output), 200))
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("プレビューファイルの読み込みに失敗: %w", err)
	}

	return data, nil
}

// Close はセッションを解放する
// gphoto2は呼び出しごとにセッションを張るため保持資源はない
func (s *gphotoSession) Close() error {
	return nil
}
