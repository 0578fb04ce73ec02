package camera

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// NodeType は設定ツリーのノード種別を表す
type NodeType string

const (
	NodeSection NodeType = "section" // 子ノードを持つコンテナ
	NodeChoice  NodeType = "choice"  // 選択肢から選ぶ値
	NodeText    NodeType = "text"    // 自由入力値
	NodeToggle  NodeType = "toggle"  // 有効/無効
)

// ConfigNode はベンダー固有の設定ツリーのノードを表す
// 同じ物理設定でもベンダーによってノード名が異なるため、
// 解決はResolveNodeを通して行う
type ConfigNode struct {
	Name     string
	Label    string
	Type     NodeType
	Value    string
	Choices  []string
	ReadOnly bool
	Children []*ConfigNode
}

// nodeAliases は正規設定名からベンダー別ノード名へのエイリアス表
// PTPカメラのベンダーが同じ設定を別名で公開するための吸収層
var nodeAliases = map[string][]string{
	"aperture":       {"f-number", "fnumber", "aperture2"},
	"iso":            {"iso-speed-value", "isospeed", "isoauto"},
	"shutter_speed":  {"shutterspeed", "shutterspeed2", "exptime"},
	"white_balance":  {"whitebalance", "wb"},
	"image_format":   {"imageformat", "imagequality", "imagesize"},
	"exposure_comp":  {"exposurecompensation", "exposurebiascompensation"},
	"focus_mode":     {"focusmode", "focusmode2", "autofocusmode"},
	"capture_target": {"capturetarget"},
}

// ResolveNode は正規設定名に対応するノードをツリーから探す
// (1) 完全一致 (2) エイリアス表 (3) 大文字小文字を無視した再帰検索 の順で
// 最初に成功した結果を返し、見つからない場合はnilを返す
func ResolveNode(tree *ConfigNode, canonical string) *ConfigNode {
	if tree == nil || canonical == "" {
		return nil
	}

	// (1) 完全一致
	if node := findExact(tree, canonical); node != nil {
		return node
	}

	// (2) エイリアス表
	for _, alias := range nodeAliases[canonical] {
		if node := findExact(tree, alias); node != nil {
			return node
		}
	}

	// (3) 再帰的な大文字小文字無視の検索
	return findFold(tree, canonical)
}

// findExact は名前の完全一致でノードを探す
func findExact(node *ConfigNode, name string) *ConfigNode {
	if node.Name == name {
		return node
	}
	for _, child := range node.Children {
		if found := findExact(child, name); found != nil {
			return found
		}
	}
	return nil
}

// findFold は大文字小文字を無視してノードを探す
// コンテナノードのみ降下する
func findFold(node *ConfigNode, name string) *ConfigNode {
	if strings.EqualFold(node.Name, name) {
		return node
	}
	if node.Type != NodeSection {
		return nil
	}
	for _, child := range node.Children {
		if found := findFold(child, name); found != nil {
			return found
		}
	}
	return nil
}

// nodeSetter はノードへの値書き込みを抽象化する
// 実体はPTPセッションのSetConfigValue
type nodeSetter func(nodeName string, value any) error

// applyTreeSettings は設定マップをツリー経由で適用する
// 各キーは独立に適用され、解決できないキーや書き込み失敗は
// ログに記録した上でスキップされる（撮影や接続を中断しない）
func applyTreeSettings(tree *ConfigNode, settings map[string]any, set nodeSetter, logger zerolog.Logger) {
	for key, value := range settings {
		node := ResolveNode(tree, key)
		if node == nil {
			logger.Debug().Str("setting", key).Msg("対応する設定ノードがありません")
			continue
		}

		if node.ReadOnly {
			logger.Warn().Str("setting", key).Str("node", node.Name).Msg("読み取り専用ノードのためスキップ")
			continue
		}

		if err := set(node.Name, value); err != nil {
			logger.Warn().Err(err).
				Str("setting", key).
				Str("node", node.Name).
				Msg("設定ノードへの書き込みに失敗")
			continue
		}

		logger.Debug().
			Str("setting", key).
			Str("node", node.Name).
			Str("value", fmt.Sprintf("%v", value)).
			Msg("設定を適用しました")
	}
}
