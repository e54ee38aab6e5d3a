package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitFor(t *testing.T, url string) *http.Response {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("GET %s: %v", url, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_NewServer(t *testing.T) {
	registry := prometheus.NewRegistry()
	checker := &mockHealthChecker{liveness: true, readiness: true, healthy: true}

	server := NewServer(8080, 9090, checker, registry, zaptest.NewLogger(t))

	if server == nil {
		t.Fatal("Server should not be nil")
	}
	if server.healthServer.Addr != ":8080" {
		t.Errorf("health addr = %s, want :8080", server.healthServer.Addr)
	}
	if server.metricsServer.Addr != ":9090" {
		t.Errorf("metrics addr = %s, want :9090", server.metricsServer.Addr)
	}
}

func TestServer_StartServesHealthAndMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exchange_test_total",
		Help: "Test metric",
	})
	registry.MustRegister(counter)
	counter.Inc()

	checker := &mockHealthChecker{liveness: true, readiness: false}
	healthPort, metricsPort := freePort(t), freePort(t)
	server := NewServer(healthPort, metricsPort, checker, registry, zaptest.NewLogger(t))

	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	base := "http://127.0.0.1:"
	resp := waitFor(t, base+strconv.Itoa(healthPort)+"/health/live")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("liveness status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp = waitFor(t, base+strconv.Itoa(healthPort)+"/health/ready")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readiness status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}

	resp = waitFor(t, base+strconv.Itoa(metricsPort)+"/metrics")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "exchange_test_total 1") {
		t.Errorf("metrics body missing test counter: %s", body)
	}
}

func TestServer_Shutdown(t *testing.T) {
	checker := &mockHealthChecker{liveness: true, readiness: true, healthy: true}
	healthPort := freePort(t)
	server := NewServer(healthPort, freePort(t), checker, prometheus.NewRegistry(), zaptest.NewLogger(t))
	_ = server.Start()

	url := "http://127.0.0.1:" + strconv.Itoa(healthPort) + "/health/live"
	waitFor(t, url).Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	if resp, err := http.Get(url); err == nil {
		resp.Body.Close()
		t.Error("Expected error connecting to stopped health server")
	}
}
