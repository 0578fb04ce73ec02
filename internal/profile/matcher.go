package profile

import (
	"strings"

	"github.com/rs/zerolog"
)

// WildcardSuffix はモデルパターン末尾のワイルドカードマーカー
const WildcardSuffix = "*"

// Matcher はハードウェア識別情報とプロファイルの照合を担う
type Matcher struct {
	logger zerolog.Logger
}

// NewMatcher は新しいMatcherを作成する
func NewMatcher(logger zerolog.Logger) *Matcher {
	return &Matcher{logger: logger}
}

// Match は検出されたデバイスに最も適合するプロファイルのIDを返す
// 候補は優先度順に評価され、最初に一致したものが採用される
// supportedはバックエンドが利用可能なデバイス種別かを判定する
// 一致がない場合は空文字を返す
func (m *Matcher) Match(facts HardwareFacts, candidates []*Profile, supported func(DeviceType) bool) string {
	for _, p := range candidates {
		// バックエンドが存在しない種別のプロファイルはスキップ
		if supported != nil && !supported(p.Type) {
			continue
		}

		if ruleMatches(p.Detection, facts) {
			m.logger.Debug().
				Str("profile", p.ID).
				Str("vendor", facts.Vendor).
				Str("model", facts.Model).
				Msg("プロファイルが一致しました")
			return p.ID
		}
	}

	m.logger.Debug().
		Str("vendor", facts.Vendor).
		Str("model", facts.Model).
		Msg("一致するプロファイルがありません")
	return ""
}

// ruleMatches は検出ルールをハードウェア情報に対して評価する
func ruleMatches(rule DetectionRule, facts HardwareFacts) bool {
	switch rule.Kind {
	case RuleVendorProduct:
		return containsFold(facts.Vendor, rule.Vendor) &&
			containsFold(facts.Product, rule.Product)

	case RuleBrandModel:
		if !containsFold(facts.Vendor, rule.Brand) {
			return false
		}
		pattern := rule.ModelPattern
		if strings.HasSuffix(pattern, WildcardSuffix) {
			stem := strings.TrimSuffix(pattern, WildcardSuffix)
			return containsFold(facts.Model, stem)
		}
		return containsFold(facts.Model, pattern)

	case RuleAuto:
		return true

	default:
		return false
	}
}

// containsFold は大文字小文字を無視した部分一致を判定する
// 空のneedleは一致しないものとして扱う
func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
