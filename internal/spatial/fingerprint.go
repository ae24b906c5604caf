package spatial

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
)

// 文档注释：快照内容指纹
// 背景：半径查询的 Redis 缓存被多个副本与重启后的进程共享，键里的快照标识必须跨进程一致。
// 约束：只覆盖会出现在半径查询结果里的内容（多边形 id/名称/顶点，点 id/坐标），按快照中的顺序计入；
// 内容相同的快照得到相同指纹，任一字段变化指纹随之变化。
func fingerprint(snap *Snapshot) string {
	h := sha256.New()
	for _, p := range snap.Polygons {
		writeStr(h, "P")
		writeStr(h, p.ID())
		writeStr(h, p.Name())
		for _, v := range p.Vertices() {
			writeFloat(h, v.Lat)
			writeFloat(h, v.Lng)
		}
	}
	for _, p := range snap.Points {
		writeStr(h, "p")
		writeStr(h, p.ID())
		writeFloat(h, p.Lat())
		writeFloat(h, p.Lng())
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// writeStr：长度前缀，避免 "ab"+"c" 与 "a"+"bc" 冲突
func writeStr(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

func writeFloat(h hash.Hash, f float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	h.Write(b[:])
}
