package spatial

import (
	"math"

	"area-link/internal/geometry"
)

// 文档注释：KD-Tree 最近邻（三维单位向量）
// 背景：为坐标兜底提供最近质心查询；经纬度直接分割在高纬与日期变更线附近剪枝不正确，
// 改用球面单位向量，弦长与大圆距离单调一致，分割平面距离即为弦长下界。
// 约束：仅支持最近一个点查询；距离相同按多边形 ID 升序，保证结果确定。
type kdNode struct {
	idx int
	v   [3]float64
	ax  int
	l   *kdNode
	r   *kdNode
}

type kdItem struct {
	idx int
	v   [3]float64
}

func unitVector(lat, lng float64) [3]float64 {
	phi := lat * math.Pi / 180
	lam := lng * math.Pi / 180
	return [3]float64{math.Cos(phi) * math.Cos(lam), math.Cos(phi) * math.Sin(lam), math.Sin(phi)}
}

func buildKD(items []kdItem, depth int) *kdNode {
	if len(items) == 0 {
		return nil
	}
	ax := depth % 3
	mid := len(items) / 2
	selectNth(items, mid, ax)
	node := &kdNode{idx: items[mid].idx, v: items[mid].v, ax: ax}
	node.l = buildKD(items[:mid], depth+1)
	node.r = buildKD(items[mid+1:], depth+1)
	return node
}

// 原地 nth 元素选择
func selectNth(a []kdItem, n, ax int) {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := partitionAt(a, lo, hi, (lo+hi)/2, ax)
		if p == n {
			return
		}
		if n < p {
			hi = p - 1
		} else {
			lo = p + 1
		}
	}
}

func partitionAt(a []kdItem, lo, hi, pivot, ax int) int {
	pv := a[pivot].v[ax]
	a[pivot], a[hi] = a[hi], a[pivot]
	i := lo
	for j := lo; j < hi; j++ {
		if a[j].v[ax] < pv {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}

func chord2(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dx*dx + dy*dy + dz*dz
}

// nearestCentroid：返回最近质心对应的多边形下标，树为空时返回 -1
func nearestCentroid(root *kdNode, polys []*geometry.Polygon, lat, lng float64) int {
	q := unitVector(lat, lng)
	best := -1
	bestD := math.MaxFloat64
	var dfs func(n *kdNode)
	dfs = func(n *kdNode) {
		if n == nil {
			return
		}
		d := chord2(q, n.v)
		if d < bestD || (d == bestD && best >= 0 && polys[n.idx].ID() < polys[best].ID()) {
			best, bestD = n.idx, d
		}
		diff := q[n.ax] - n.v[n.ax]
		first, second := n.l, n.r
		if diff > 0 {
			first, second = n.r, n.l
		}
		dfs(first)
		// 分割平面距离不超过当前最优才需要遍历另一侧（含等号以处理并列）
		if diff*diff <= bestD {
			dfs(second)
		}
	}
	dfs(root)
	return best
}
