package linkage

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize：NFKC 归一、去首尾空白、折叠内部空白、大小写折叠
func Normalize(name string) string {
	s := norm.NFKC.String(name)
	s = strings.Join(strings.Fields(s), " ")
	return folder.String(s)
}

// Tokens：按非字母数字切分后的去重词集合
func Tokens(normalized string) map[string]struct{} {
	parts := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		out[p] = struct{}{}
	}
	return out
}

// 名称的预计算形式，避免在 O(areas×polygons) 循环中重复归一化
type nameKey struct {
	norm   string
	runes  []rune
	tokens map[string]struct{}
}

func newNameKey(name string) nameKey {
	n := Normalize(name)
	return nameKey{norm: n, runes: []rune(n), tokens: Tokens(n)}
}

func (k nameKey) empty() bool { return k.norm == "" }
