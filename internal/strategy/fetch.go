package strategy

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// Request 是策略层看到的上游请求视图，与具体 HTTP 框架解耦。
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response 是一次上游响应（或合成响应）的完整快照。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Fetcher 抽象网络取数路径，测试中可注入假实现模拟断网/慢网。
type Fetcher interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Do makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// NewHTTPFetcher 基于共享 http.Client 构建真实网络取数器。
func NewHTTPFetcher(client *http.Client) Fetcher {
	return &httpFetcher{client: client}
}

type httpFetcher struct {
	client *http.Client
}

func (f *httpFetcher) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   payload,
	}, nil
}
