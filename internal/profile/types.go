package profile

import (
	"errors"
	"fmt"
)

// ErrNotFound は指定されたプロファイルが存在しない場合に返される
var ErrNotFound = errors.New("プロファイルが見つかりません")

// ErrValidation はプロファイルデータが不正な場合に返される
var ErrValidation = errors.New("プロファイルデータが不正です")

// DeviceType はプロファイルが対象とするデバイスの種別を表す
type DeviceType string

const (
	TypeWebcam             DeviceType = "webcam"              // USBウェブカメラ
	TypeTetheredPTP        DeviceType = "tethered_ptp"        // PTP制御の一眼レフ
	TypeTetheredMirrorless DeviceType = "tethered_mirrorless" // PTP制御のミラーレス
	TypeDepthSensor        DeviceType = "depth_sensor"        // 深度センサーカメラ
)

// IsTethered はPTP制御カメラ向けの種別かどうかを返す
func (t DeviceType) IsTethered() bool {
	return t == TypeTetheredPTP || t == TypeTetheredMirrorless
}

// Valid は既知の種別かどうかを返す
func (t DeviceType) Valid() bool {
	switch t {
	case TypeWebcam, TypeTetheredPTP, TypeTetheredMirrorless, TypeDepthSensor:
		return true
	}
	return false
}

// RuleKind は検出ルールの種類を表す
type RuleKind string

const (
	RuleVendorProduct RuleKind = "vendor_product" // ベンダー文字列と製品文字列の一致
	RuleBrandModel    RuleKind = "brand_model"    // ブランドとモデルパターンの一致
	RuleAuto          RuleKind = "auto"           // 常に一致（最低優先度）
)

// 優先度のデフォルト値
// Autoルールは必ず他のルールより後に評価されるよう大きな値を持つ
const (
	DefaultPriority     = 100
	DefaultAutoPriority = 1000
)

// DetectionRule はデバイスとプロファイルの照合条件を表す
type DetectionRule struct {
	Kind RuleKind `yaml:"kind" json:"kind"`

	// RuleVendorProduct用
	Vendor  string `yaml:"vendor,omitempty" json:"vendor,omitempty"`
	Product string `yaml:"product,omitempty" json:"product,omitempty"`

	// RuleBrandModel用：ModelPatternは末尾の*をワイルドカードとして扱う
	Brand        string `yaml:"brand,omitempty" json:"brand,omitempty"`
	ModelPattern string `yaml:"model_pattern,omitempty" json:"model_pattern,omitempty"`

	// Priority は評価順序を決める（小さいほど先に評価される）
	// 0の場合はルール種別に応じたデフォルト値が適用される
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// EffectivePriority は未設定時のデフォルトを考慮した優先度を返す
func (r DetectionRule) EffectivePriority() int {
	if r.Priority != 0 {
		return r.Priority
	}
	if r.Kind == RuleAuto {
		return DefaultAutoPriority
	}
	return DefaultPriority
}

// Profile はカメラ設定プロファイルを表す
type Profile struct {
	ID        string         `yaml:"id" json:"id"`
	Name      string         `yaml:"name" json:"name"`
	Type      DeviceType     `yaml:"type" json:"type"`
	Detection DetectionRule  `yaml:"detection" json:"detection"`
	Settings  map[string]any `yaml:"settings,omitempty" json:"settings,omitempty"`
	Advanced  map[string]any `yaml:"advanced,omitempty" json:"advanced,omitempty"`
}

// Validate はプロファイルの妥当性を検証する
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: 名前が指定されていません", ErrValidation)
	}
	if p.Type != "" && !p.Type.Valid() {
		return fmt.Errorf("%w: 不明なデバイス種別 %s", ErrValidation, p.Type)
	}
	switch p.Detection.Kind {
	case RuleVendorProduct, RuleBrandModel, RuleAuto, "":
	default:
		return fmt.Errorf("%w: 不明なルール種別 %s", ErrValidation, p.Detection.Kind)
	}
	return nil
}

// Summary はプロファイルの一覧表示用の要約
type Summary struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Type   DeviceType `json:"type"`
	Active bool       `json:"active"`
}

// HardwareFacts は列挙時に取得される生のデバイス識別情報
// 永続化はされず、列挙のたびに作り直される
type HardwareFacts struct {
	Vendor  string // ベンダー文字列
	Model   string // モデル文字列
	Product string // 製品文字列
	Kind    DeviceType
	Address string // デバイスパスまたはUSBアドレス
	Serial  string // シリアル番号（取得できた場合）
}
