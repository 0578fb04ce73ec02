package profile

import (
	"testing"

	"github.com/rs/zerolog"
)

func allSupported(DeviceType) bool { return true }

func testMatcher() *Matcher {
	return NewMatcher(zerolog.Nop())
}

// TestMatchVendorProduct はベンダー・製品ルールの評価をテストする
func TestMatchVendorProduct(t *testing.T) {
	candidates := []*Profile{
		{
			ID:   "logi-c920",
			Type: TypeWebcam,
			Detection: DetectionRule{
				Kind:    RuleVendorProduct,
				Vendor:  "Logitech",
				Product: "C920",
			},
		},
	}

	facts := HardwareFacts{
		Vendor:  "logitech inc.",
		Product: "HD Pro Webcam C920",
		Kind:    TypeWebcam,
	}

	if got := testMatcher().Match(facts, candidates, allSupported); got != "logi-c920" {
		t.Errorf("一致が期待されましたが: %q", got)
	}

	// 製品が一致しない場合
	facts.Product = "BRIO 4K"
	if got := testMatcher().Match(facts, candidates, allSupported); got != "" {
		t.Errorf("不一致が期待されましたが: %q", got)
	}
}

// TestMatchBrandModelWildcard はワイルドカード付きモデルパターンをテストする
func TestMatchBrandModelWildcard(t *testing.T) {
	candidates := []*Profile{
		{
			ID:   "canon-eos",
			Type: TypeTetheredPTP,
			Detection: DetectionRule{
				Kind:         RuleBrandModel,
				Brand:        "Canon",
				ModelPattern: "EOS*",
			},
		},
	}

	testCases := []struct {
		name     string
		model    string
		expected string
	}{
		{"EOS 90D は一致する", "EOS 90D", "canon-eos"},
		{"R90D は一致しない", "R90D", ""},
		{"小文字でも一致する", "eos r6", "canon-eos"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			facts := HardwareFacts{
				Vendor: "Canon Inc.",
				Model:  tc.model,
				Kind:   TypeTetheredPTP,
			}
			if got := testMatcher().Match(facts, candidates, allSupported); got != tc.expected {
				t.Errorf("Match = %q, 期待値 %q", got, tc.expected)
			}
		})
	}
}

// TestMatchBrandModelExact はワイルドカードなしモデルパターンをテストする
func TestMatchBrandModelExact(t *testing.T) {
	candidates := []*Profile{
		{
			ID:   "sony-a7iii",
			Type: TypeTetheredMirrorless,
			Detection: DetectionRule{
				Kind:         RuleBrandModel,
				Brand:        "Sony",
				ModelPattern: "ILCE-7M3",
			},
		},
	}

	facts := HardwareFacts{
		Vendor: "Sony Corporation",
		Model:  "ILCE-7M3",
		Kind:   TypeTetheredMirrorless,
	}
	if got := testMatcher().Match(facts, candidates, allSupported); got != "sony-a7iii" {
		t.Errorf("一致が期待されましたが: %q", got)
	}

	facts.Model = "ILCE-7M4"
	if got := testMatcher().Match(facts, candidates, allSupported); got != "" {
		t.Errorf("不一致が期待されましたが: %q", got)
	}
}

// TestMatchAutoRule はAutoルールが常に一致することをテストする
func TestMatchAutoRule(t *testing.T) {
	candidates := []*Profile{
		{
			ID:        "fallback",
			Type:      TypeWebcam,
			Detection: DetectionRule{Kind: RuleAuto},
		},
	}

	facts := HardwareFacts{Vendor: "誰も知らないベンダー", Kind: TypeWebcam}
	if got := testMatcher().Match(facts, candidates, allSupported); got != "fallback" {
		t.Errorf("Autoルールの一致が期待されましたが: %q", got)
	}
}

// TestMatchPriorityOrder は優先度による評価順序をテストする
// Autoルールは明示的な優先度により必ず後に評価される
func TestMatchPriorityOrder(t *testing.T) {
	// Storeの優先度順ソートを通した順序を模倣する
	auto := &Profile{
		ID:        "auto-fallback",
		Type:      TypeWebcam,
		Detection: DetectionRule{Kind: RuleAuto},
	}
	specific := &Profile{
		ID:   "logi-brio",
		Type: TypeWebcam,
		Detection: DetectionRule{
			Kind:    RuleVendorProduct,
			Vendor:  "Logitech",
			Product: "BRIO",
		},
	}

	if auto.Detection.EffectivePriority() <= specific.Detection.EffectivePriority() {
		t.Fatal("Autoルールのデフォルト優先度が明示ルールより高くなっています")
	}

	// 優先度順（specificが先）
	candidates := []*Profile{specific, auto}

	facts := HardwareFacts{
		Vendor:  "Logitech",
		Product: "Logitech BRIO",
		Kind:    TypeWebcam,
	}
	if got := testMatcher().Match(facts, candidates, allSupported); got != "logi-brio" {
		t.Errorf("明示ルールが優先されるはずですが: %q", got)
	}

	// 明示ルールが一致しない場合はAutoに落ちる
	facts.Product = "不明な製品"
	if got := testMatcher().Match(facts, candidates, allSupported); got != "auto-fallback" {
		t.Errorf("Autoルールへのフォールバックが期待されましたが: %q", got)
	}
}

// TestMatchCapabilityGating はバックエンド未対応種別のスキップをテストする
func TestMatchCapabilityGating(t *testing.T) {
	candidates := []*Profile{
		{
			ID:        "tethered-auto",
			Type:      TypeTetheredPTP,
			Detection: DetectionRule{Kind: RuleAuto, Priority: 10},
		},
		{
			ID:        "webcam-auto",
			Type:      TypeWebcam,
			Detection: DetectionRule{Kind: RuleAuto, Priority: 20},
		},
	}

	// PTPバックエンドが利用不可の環境
	onlyWebcam := func(t DeviceType) bool { return t == TypeWebcam }

	facts := HardwareFacts{Vendor: "Generic", Kind: TypeWebcam}
	if got := testMatcher().Match(facts, candidates, onlyWebcam); got != "webcam-auto" {
		t.Errorf("未対応種別がスキップされるはずですが: %q", got)
	}
}

// TestMatchEmptyRule は空のルール部品が一致しないことをテストする
func TestMatchEmptyRule(t *testing.T) {
	candidates := []*Profile{
		{
			ID:        "empty-vendor",
			Type:      TypeWebcam,
			Detection: DetectionRule{Kind: RuleVendorProduct},
		},
	}

	facts := HardwareFacts{Vendor: "Logitech", Product: "C920", Kind: TypeWebcam}
	if got := testMatcher().Match(facts, candidates, allSupported); got != "" {
		t.Errorf("空ルールは一致しないはずですが: %q", got)
	}
}
