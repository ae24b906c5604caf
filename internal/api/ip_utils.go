package api

import (
	"net"
	"net/http"
	"strings"
)

var ipHeaders = []string{"x-forwarded-for", "cf-connecting-ip", "x-real-ip", "x-client-ip"}

// 文档注释：获取用于定位的客户端 IP
// 背景：多层代理环境下，优先显式参数 ?ip=，其次常见反向代理头，最后回退远端地址。
// 约束：当头部存在伪造风险时需结合可信代理白名单处理；结果仅用于"附近区域"定位，不做鉴权。
func getClientIP(r *http.Request) string {
	if q := r.URL.Query().Get("ip"); q != "" {
		return q
	}
	h := r.Header
	for _, k := range ipHeaders {
		if x := h.Get(k); x != "" {
			return strings.TrimSpace(strings.Split(x, ",")[0])
		}
	}
	if x := h.Get("forwarded"); x != "" {
		if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
			y := strings.Trim(x[i+4:], "\" ")
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			return strings.Trim(y, "\"[]")
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
