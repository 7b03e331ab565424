package strategy

import (
	"encoding/base64"
	"net/http"
)

// 离线兜底页：导航失败时返回 200 + 内联 HTML，避免终端用户看到浏览器错误页。
const offlinePageHTML = `<!DOCTYPE html>
<html lang="zh">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>当前离线</title>
<style>
body{font-family:sans-serif;display:flex;align-items:center;justify-content:center;height:100vh;margin:0;background:#f5f5f5;color:#333}
.card{text-align:center;padding:2rem}
button{margin-top:1rem;padding:.6rem 1.6rem;border:0;border-radius:4px;background:#1a73e8;color:#fff;font-size:1rem}
</style>
</head>
<body>
<div class="card">
<h1>网络不可用</h1>
<p>当前处于离线状态，已为你保留本地数据。</p>
<button onclick="location.reload()">重试</button>
</div>
</body>
</html>`

// transparentPixelGIF 是 1×1 透明占位图，图片取数彻底失败时静默降级。
var transparentPixelGIF, _ = base64.StdEncoding.DecodeString(
	"R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

// offlinePage 合成导航离线页（状态码刻意为 200）。
func offlinePage() *Response {
	return &Response{
		Status: http.StatusOK,
		Header: http.Header{
			"Content-Type":  []string{"text/html; charset=utf-8"},
			"Cache-Control": []string{"no-store"},
		},
		Body: []byte(offlinePageHTML),
	}
}

// apiUnavailable 合成结构化离线负载，调用方可通过 offline 字段检测降级。
func apiUnavailable() *Response {
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"offline":true,"error":"api_not_available"}`),
	}
}

// resourceUnavailable 合成静态资源兜底响应。
func resourceUnavailable() *Response {
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"offline":true,"error":"resource_not_available"}`),
	}
}

// imagePlaceholder 合成 1×1 透明占位图响应。
func imagePlaceholder() *Response {
	return &Response{
		Status: http.StatusOK,
		Header: http.Header{
			"Content-Type":  []string{"image/gif"},
			"Cache-Control": []string{"no-store"},
		},
		Body: transparentPixelGIF,
	}
}
