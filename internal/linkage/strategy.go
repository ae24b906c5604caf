package linkage

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

const (
	fuzzyThreshold = 0.8
	substringConf  = 0.7
)

// Match：单个策略的输出
type Match struct {
	Confidence float64
	Type       MatchType
}

// 单个匹配策略：纯函数，无副作用
type strategy func(a, b nameKey) (Match, bool)

// 级联顺序固定：exact → fuzzy → partial，命中即停止
var cascade = []strategy{exactStrategy, fuzzyStrategy, partialStrategy}

func exactStrategy(a, b nameKey) (Match, bool) {
	if a.empty() || b.empty() || a.norm != b.norm {
		return Match{}, false
	}
	return Match{Confidence: 1.0, Type: MatchExact}, true
}

func fuzzyStrategy(a, b nameKey) (Match, bool) {
	if a.empty() || b.empty() {
		return Match{}, false
	}
	r := similarity(a, b)
	if r <= fuzzyThreshold {
		return Match{}, false
	}
	return Match{Confidence: r, Type: MatchFuzzy}, true
}

func partialStrategy(a, b nameKey) (Match, bool) {
	if a.empty() || b.empty() {
		return Match{}, false
	}
	if strings.Contains(a.norm, b.norm) || strings.Contains(b.norm, a.norm) {
		return Match{Confidence: substringConf, Type: MatchPartial}, true
	}
	if len(a.tokens) == 0 || len(b.tokens) == 0 {
		return Match{}, false
	}
	small, large := a.tokens, b.tokens
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for t := range small {
		if _, ok := large[t]; ok {
			shared++
		}
	}
	if shared == 0 {
		return Match{}, false
	}
	return Match{Confidence: float64(shared) / float64(len(large)), Type: MatchPartial}, true
}

// similarity：基于编辑距离的相似度 1 - d/max(len)，按 rune 计长
func similarity(a, b nameKey) float64 {
	la, lb := len(a.runes), len(b.runes)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a.norm, b.norm)
	return 1 - float64(d)/float64(longest)
}

// evaluate：执行级联；首个命中的策略决定结果，置信度低于阈值则视为无关联
func evaluate(a, b nameKey, minConf float64) (Match, bool) {
	for _, s := range cascade {
		if m, ok := s(a, b); ok {
			if m.Confidence < minConf {
				return Match{}, false
			}
			return m, true
		}
	}
	return Match{}, false
}

// MatchNames：对两个原始名称执行完整级联，供单测与调试使用
func MatchNames(a, b string) (Match, bool) {
	return evaluate(newNameKey(a), newNameKey(b), MinConfidence)
}

// ExactMatch / FuzzyMatch / PartialMatch：单独暴露各策略，输入为原始名称
func ExactMatch(a, b string) (Match, bool)   { return exactStrategy(newNameKey(a), newNameKey(b)) }
func FuzzyMatch(a, b string) (Match, bool)   { return fuzzyStrategy(newNameKey(a), newNameKey(b)) }
func PartialMatch(a, b string) (Match, bool) { return partialStrategy(newNameKey(a), newNameKey(b)) }

// Similarity：两个原始名称归一化后的编辑距离相似度
func Similarity(a, b string) float64 { return similarity(newNameKey(a), newNameKey(b)) }
