package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AnTengye/contractrisk/config"
	"github.com/AnTengye/contractrisk/handler"
	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cannedAnalysis = `{"clauses":[{"clause_text":"Auto-renews without notice","risk_level":"high","risk_score":9,"explanation":"Locks the customer in."}],"summary":"Renewal risk.","recommendations":["Add 30-day notice clause"],"document_type":"contract"}`

// fakeOpenAI answers chat completions with content
func fakeOpenAI(t *testing.T, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"model": "fake-gpt",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{CORSOrigins: []string{"*"}, MaxUploadMB: 1},
		LLM: config.LLMConfig{
			Provider: config.ProviderOpenAI,
			Model:    "fake-gpt",
			APIKey:   "test",
			BaseURL:  baseURL,
		},
		Resilience: config.ResilienceConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, Timeout: 5 * time.Second},
		Store:      config.StoreConfig{Backend: config.BackendMemory},
	}
}

func TestAnalyzeFile(t *testing.T) {
	server := fakeOpenAI(t, cannedAnalysis)
	path := filepath.Join(t.TempDir(), "lease.txt")
	require.NoError(t, os.WriteFile(path, []byte("This lease auto-renews without notice."), 0o600))

	var out bytes.Buffer
	err := analyzeFile(context.Background(), testConfig(t, server.URL), path, &out)
	require.NoError(t, err)

	var a model.DocumentAnalysis
	require.NoError(t, json.Unmarshal(out.Bytes(), &a))
	assert.Equal(t, 9.0, a.OverallRiskScore)
	require.Len(t, a.Clauses, 1)
	assert.Equal(t, model.RiskHigh, a.Clauses[0].RiskLevel)
	assert.Equal(t, "fake-gpt", a.Model)
}

func TestAnalyzeFileUnsupportedFormat(t *testing.T) {
	// the file does not exist; the extension is rejected first
	err := analyzeFile(context.Background(), testConfig(t, "http://127.0.0.1:0"), "notes.docx", &bytes.Buffer{})
	assert.True(t, errors.Is(err, service.ErrUnsupportedFormat), "got %v", err)
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := fakeOpenAI(t, cannedAnalysis)
	cfg := testConfig(t, server.URL)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()
	h := handler.NewAnalysisHandler(a.pipeline, a.store, 0, cfg.Server.MaxUploadMB)
	router := newRouter(cfg, h, a.registry)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	analysis, err := a.pipeline.Analyze(context.Background(), []byte("some contract"), "c.txt")
	require.NoError(t, err)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/analysis/"+analysis.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `contractrisk_analyses_total{outcome="finished"} 1`), body)
	assert.Contains(t, body, "contractrisk_http_requests_total")
}

func TestVersionCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "contractrisk version "+Version)
}

func TestAnalyzeCommandRequiresFile(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"analyze"})

	assert.Error(t, cmd.Execute())
}
