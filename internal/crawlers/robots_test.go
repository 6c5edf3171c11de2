package crawlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestRobotsGate(t *testing.T) {
	var robotsHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	gate := NewRobotsGate(srv.Client(), DefaultUserAgents[0])
	ctx := context.Background()

	if !gate.Allowed(ctx, srv.URL+"/research/company_list.naver") {
		t.Error("公开路径应允许")
	}
	if gate.Allowed(ctx, srv.URL+"/private/report") {
		t.Error("Disallow 路径应被拒绝")
	}
	if robotsHits.Load() != 1 {
		t.Errorf("robots.txt 应按主机缓存, 实际请求 %d 次", robotsHits.Load())
	}
}

func TestRobotsGateMissingRobotsAllowsAll(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	gate := NewRobotsGate(srv.Client(), "analystcrawl")
	if !gate.Allowed(context.Background(), srv.URL+"/anything") {
		t.Error("robots.txt 不存在时应放行")
	}
}
