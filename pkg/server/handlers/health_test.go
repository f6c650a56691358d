package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func ginContext(w *httptest.ResponseRecorder, method, path string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, nil)
	return c
}

func TestHealthCheck(t *testing.T) {
	handler := NewHealthHandler(NewAgents(nil, nil, quietLogger()))

	w := httptest.NewRecorder()
	handler.HealthCheck(ginContext(w, http.MethodGet, "/health"))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", response["status"])
	}
	if response["service"] != "starspace" {
		t.Errorf("expected service starspace, got %v", response["service"])
	}
	if _, ok := response["timestamp"]; !ok {
		t.Error("expected timestamp in response")
	}
	if _, ok := response["version"]; !ok {
		t.Error("expected version in response")
	}
}

func TestLivenessCheck(t *testing.T) {
	handler := NewHealthHandler(NewAgents(nil, nil, quietLogger()))

	w := httptest.NewRecorder()
	handler.LivenessCheck(ginContext(w, http.MethodGet, "/live"))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "alive" {
		t.Errorf("expected status alive, got %v", response["status"])
	}
}

func TestReadinessCheckWithoutAgent(t *testing.T) {
	handler := NewHealthHandler(NewAgents(nil, nil, quietLogger()))

	w := httptest.NewRecorder()
	handler.ReadinessCheck(ginContext(w, http.MethodGet, "/ready"))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "not_ready" {
		t.Errorf("expected status not_ready, got %v", response["status"])
	}

	checks, ok := response["checks"].(map[string]interface{})
	if !ok {
		t.Fatal("expected checks in response")
	}
	model, ok := checks["model"].(map[string]interface{})
	if !ok {
		t.Fatal("expected model check in response")
	}
	if model["status"] != "unhealthy" {
		t.Errorf("expected model check unhealthy, got %v", model["status"])
	}
}

func TestReadinessCheckWithAgent(t *testing.T) {
	handler := NewHealthHandler(NewAgents(testAgent(t), nil, quietLogger()))

	w := httptest.NewRecorder()
	handler.ReadinessCheck(ginContext(w, http.MethodGet, "/ready"))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "ready" {
		t.Errorf("expected status ready, got %v", response["status"])
	}

	checks := response["checks"].(map[string]interface{})
	model := checks["model"].(map[string]interface{})
	if model["status"] != "healthy" {
		t.Errorf("expected model check healthy, got %v", model["status"])
	}
	if model["vocab"].(float64) <= 0 {
		t.Errorf("expected positive vocab, got %v", model["vocab"])
	}

	sessions := checks["sessions"].(map[string]interface{})
	if sessions["status"] != "healthy" {
		t.Errorf("expected sessions check healthy, got %v", sessions["status"])
	}
	if _, ok := sessions["note"]; !ok {
		t.Error("expected a persistence-disabled note without a store")
	}
}

func TestReadinessCheckWithStore(t *testing.T) {
	handler := NewHealthHandler(NewAgents(testAgent(t), memStore(t), quietLogger()))

	w := httptest.NewRecorder()
	handler.ReadinessCheck(ginContext(w, http.MethodGet, "/ready"))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	sessions := response["checks"].(map[string]interface{})["sessions"].(map[string]interface{})
	if sessions["status"] != "healthy" {
		t.Errorf("expected sessions check healthy, got %v", sessions["status"])
	}
	if _, ok := sessions["duration"]; !ok {
		t.Error("expected a probe duration with a store")
	}
}

func TestDetailedHealthCheck(t *testing.T) {
	handler := NewHealthHandler(NewAgents(testAgent(t), nil, quietLogger()))

	w := httptest.NewRecorder()
	handler.DetailedHealthCheck(ginContext(w, http.MethodGet, "/health/detailed"))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if _, ok := response["build_info"]; !ok {
		t.Error("expected build_info in response")
	}

	checks := response["checks"].(map[string]interface{})
	model := checks["model"].(map[string]interface{})
	if model["optimizer"] != "sgd" {
		t.Errorf("expected optimizer sgd, got %v", model["optimizer"])
	}

	system := checks["system"].(map[string]interface{})
	if system["goroutines"].(float64) <= 0 {
		t.Errorf("expected positive goroutine count, got %v", system["goroutines"])
	}

	metrics := response["metrics"].(map[string]interface{})
	if _, ok := metrics["response_time_ms"]; !ok {
		t.Error("expected response_time_ms in metrics")
	}
}

func TestGetSystemMetrics(t *testing.T) {
	handler := NewHealthHandler(NewAgents(nil, nil, quietLogger()))

	m := handler.getSystemMetrics()
	if m.Goroutines <= 0 {
		t.Errorf("expected positive goroutine count, got %d", m.Goroutines)
	}
	if m.MemoryUsage == "" || !strings.HasSuffix(m.MemoryUsage, "MB") {
		t.Errorf("expected memory usage in MB, got %q", m.MemoryUsage)
	}
}
