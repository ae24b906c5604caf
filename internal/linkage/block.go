package linkage

import (
	"sort"
	"unicode/utf8"
)

// 文档注释：分块预过滤索引
// 背景：大规模运行时 O(areas×polygons) 全量比较不可接受；按名称首字符与词建立倒排，缩小候选集合。
// 约束：候选结果保持原多边形顺序，便于输出稳定。
type blockIndex struct {
	byFirst map[rune][]int
	byToken map[string][]int
}

func newBlockIndex(polys []polyKey) *blockIndex {
	idx := &blockIndex{byFirst: make(map[rune][]int), byToken: make(map[string][]int)}
	for i, p := range polys {
		if r, _ := utf8.DecodeRuneInString(p.key.norm); r != utf8.RuneError {
			idx.byFirst[r] = append(idx.byFirst[r], i)
		}
		for t := range p.key.tokens {
			idx.byToken[t] = append(idx.byToken[t], i)
		}
	}
	return idx
}

func (b *blockIndex) candidates(k nameKey, polys []polyKey) []polyKey {
	set := make(map[int]struct{})
	if r, _ := utf8.DecodeRuneInString(k.norm); r != utf8.RuneError {
		for _, i := range b.byFirst[r] {
			set[i] = struct{}{}
		}
	}
	for t := range k.tokens {
		for _, i := range b.byToken[t] {
			set[i] = struct{}{}
		}
	}
	ids := make([]int, 0, len(set))
	for i := range set {
		ids = append(ids, i)
	}
	sort.Ints(ids)
	out := make([]polyKey, len(ids))
	for j, i := range ids {
		out[j] = polys[i]
	}
	return out
}
