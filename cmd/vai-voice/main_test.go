package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-voice/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-voice/pkg/gateway/server"
)

const testSession = "0b6c5b8e-8f7e-4c1a-9a55-2f0a3d6b9e21"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Addr:                       "127.0.0.1:0",
		AppURL:                     "http://localhost:8000",
		DataDir:                    dir,
		SessionRoot:                filepath.Join(dir, "sessions"),
		AudioDir:                   filepath.Join(dir, "audio"),
		StateStore:                 config.StateStoreMemory,
		OAuthStateTTL:              time.Minute,
		TTSProvider:                "none",
		LimitRPS:                   10,
		LimitBurst:                 10,
		WSMaxConnectionsPerSession: 2,
		CORSAllowedOrigins:         map[string]struct{}{},
		WSMaxMessageBytes:          1 << 20,
		ReadHeaderTimeout:          time.Second,
		ShutdownGracePeriod:        time.Second,
		LogFormat:                  "json",
	}
}

func noSignals() (func(chan<- os.Signal, ...os.Signal), func(chan<- os.Signal)) {
	return func(c chan<- os.Signal, sig ...os.Signal) {}, func(c chan<- os.Signal) {}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	notify, stop := noSignals()

	var stdout, stderr bytes.Buffer
	exitCode := runMain(context.Background(), []string{"serve", "--env-file", ""}, &stdout, &stderr, serveDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newGateway: func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, error) {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil, nil
		},
		signalNotify: notify,
		signalStop:   stop,
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); !strings.Contains(got, "boom") {
		t.Fatalf("stderr=%q", got)
	}
}

func TestRunMain_UnknownCommandFails(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"frobnicate"}, &stdout, &stderr, defaultServeDeps()); code != 1 {
		t.Fatalf("exitCode=%d, want 1", code)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != 0 {
		t.Fatalf("ReadTimeout=%v, want 0 for long-lived sockets", srv.ReadTimeout)
	}
}

func TestRunServe_StopsOnSignal(t *testing.T) {
	cfg := testConfig(t)
	sigs := make(chan chan<- os.Signal, 1)

	var stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- runServe(context.Background(), &stderr, serveDeps{
			loadConfig: func() (config.Config, error) { return cfg, nil },
			newGateway: gatewayserver.New,
			signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
				sigs <- c
			},
			signalStop: func(c chan<- os.Signal) {},
		})
	}()

	select {
	case c := <-sigs:
		c <- os.Interrupt
	case err := <-done:
		t.Fatalf("runServe returned before signal: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("signalNotify never called")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runServe did not stop")
	}
	if !strings.Contains(stderr.String(), "voice backend stopped") {
		t.Fatalf("logs=%q", stderr.String())
	}
}

func TestRunServe_StopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	notify, stop := noSignals()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, &bytes.Buffer{}, serveDeps{
			loadConfig:   func() (config.Config, error) { return cfg, nil },
			newGateway:   gatewayserver.New,
			signalNotify: notify,
			signalStop:   stop,
		})
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runServe did not stop")
	}
}

func TestSessionNew_PrintsUUIDv4(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"session", "new"}, &stdout, &stderr, defaultServeDeps()); code != 0 {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr.String())
	}
	id, err := uuid.Parse(strings.TrimSpace(stdout.String()))
	if err != nil {
		t.Fatalf("parse %q: %v", stdout.String(), err)
	}
	if id.Version() != 4 {
		t.Fatalf("version=%d", id.Version())
	}
}

func TestSessionRm_RemovesStoredData(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testSession)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "gmail_credentials.json"), []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"session", "rm", testSession, "--root", root, "--env-file", ""}, &stdout, &stderr, defaultServeDeps())
	if code != 0 {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr.String())
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("session dir still present: %v", err)
	}

	stdout.Reset()
	code = runMain(context.Background(), []string{"session", "rm", testSession, "--root", root, "--env-file", ""}, &stdout, &stderr, defaultServeDeps())
	if code != 0 || !strings.Contains(stdout.String(), "no stored data") {
		t.Fatalf("second rm exitCode=%d stdout=%q", code, stdout.String())
	}
}

func TestSessionRm_RejectsMalformedID(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"session", "rm", "../etc", "--root", t.TempDir(), "--env-file", ""}, &stdout, &stderr, defaultServeDeps())
	if code != 1 {
		t.Fatalf("exitCode=%d", code)
	}
}

func TestRulesMatch_DryRunsEngine(t *testing.T) {
	t.Setenv("RULES_FILE", "")

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"rules", "match", "--env-file", "", "2 + 3"}, &stdout, &stderr, defaultServeDeps())
	if code != 0 {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "simple_calculation") || !strings.Contains(out, "2 + 3 = 5です") {
		t.Fatalf("stdout=%q", out)
	}

	stdout.Reset()
	code = runMain(context.Background(), []string{"rules", "match", "--env-file", "", "量子力学について説明して"}, &stdout, &stderr, defaultServeDeps())
	if code != 0 || !strings.Contains(stdout.String(), "no rule matched") {
		t.Fatalf("exitCode=%d stdout=%q", code, stdout.String())
	}
}

func TestRulesCheck(t *testing.T) {
	t.Setenv("RULES_FILE", "")
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("rules:\n  - name: low\n    priority: 1\n    patterns: ['a']\n    responses: ['A']\n  - name: high\n    priority: 9\n    patterns: ['b']\n    action: calculate\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), []string{"rules", "check", good, "--env-file", ""}, &stdout, &stderr, defaultServeDeps()); code != 0 {
		t.Fatalf("exitCode=%d stderr=%q", code, stderr.String())
	}
	out := stdout.String()
	if strings.Index(out, "high") > strings.Index(out, "low") || !strings.Contains(out, "2 rules ok") {
		t.Fatalf("stdout=%q", out)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("rules:\n  - name: broken\n    priority: 1\n    patterns: ['(']\n    responses: ['x']\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	stderr.Reset()
	if code := runMain(context.Background(), []string{"rules", "check", bad, "--env-file", ""}, &stdout, &stderr, defaultServeDeps()); code != 1 {
		t.Fatalf("exitCode=%d", code)
	}
	if !strings.Contains(stderr.String(), "broken") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}
