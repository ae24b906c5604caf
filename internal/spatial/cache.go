package spatial

import (
	"container/list"
	"sync"
)

// 文档注释：本地 LRU 缓存（geohash 为键）
// 背景：热点坐标在短周期内重复查询，缓存 geohash 网格单元的候选多边形下标，省去全量包围盒过滤。
// 约束：缓存的是候选集而非最终结果，命中后仍逐个做 PIP 判定，结果与线性扫描一致；快照不可变，无需 TTL。
type lru struct {
	mu   sync.Mutex
	cap  int
	lst  *list.List
	dict map[string]*list.Element
}

type kv struct {
	k string
	v []int
}

func newLRU(capacity int) *lru {
	return &lru{cap: capacity, lst: list.New(), dict: make(map[string]*list.Element)}
}

func (c *lru) get(k string) ([]int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		c.lst.MoveToFront(e)
		return e.Value.(kv).v, true
	}
	return nil, false
}

func (c *lru) set(k string, v []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		e.Value = kv{k: k, v: v}
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(kv{k: k, v: v})
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(kv).k)
		c.lst.Remove(back)
	}
}

func (c *lru) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
