package crawlers

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// FetcherTransport 把 AdaptiveFetcher 适配为 http.RoundTripper,
// 供 colly 使用,列表页因此也经过节奏控制和封禁检测
type FetcherTransport struct {
	Fetcher *AdaptiveFetcher
}

// RoundTrip 实现 http.RoundTripper
// 返回的响应体已是 UTF-8 文本,colly 不会再做字符集转换
func (t *FetcherTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return nil, fmt.Errorf("不支持的请求方法: %s", req.Method)
	}

	page, err := t.Fetcher.Fetch(req.Context(), req.URL.String())
	if err != nil {
		return nil, err
	}

	header := page.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")
	header.Set("Content-Type", "text/html; charset=utf-8")

	body := []byte(page.HTML)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", page.StatusCode, http.StatusText(page.StatusCode)),
		StatusCode:    page.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}
