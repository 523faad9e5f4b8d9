package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestServer(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer healthy.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	ctx := context.Background()

	if err := Server(nil, healthy.URL+"/").Run(ctx); err != nil {
		t.Errorf("expected healthy server, got %v", err)
	}
	if err := Server(nil, broken.URL).Run(ctx); err == nil {
		t.Error("expected error for 503")
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()
	if err := Server(nil, url).Run(ctx); err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestDataDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"ok", dir, false},
		{"empty", "", true},
		{"missing", filepath.Join(dir, "missing"), true},
		{"not a dir", file, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DataDir(tt.path).Run(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}

	// Проверка не оставляет временных файлов
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the seeded file, got %d entries", len(entries))
	}
}

func TestRun_FirstFailureIsFatal(t *testing.T) {
	storeErr := errors.New("connection refused")
	var brokerCalled bool

	err := Run(context.Background(), nil, 0,
		Store(fakePinger{}),
		Store(fakePinger{err: storeErr}),
		Broker("tcp://localhost:1883", func(context.Context) error {
			brokerCalled = true
			return nil
		}),
	)

	var fatal *FatalStartupError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalStartupError, got %v", err)
	}
	if fatal.Check != "store" || !errors.Is(err, storeErr) {
		t.Errorf("unexpected error: %v", err)
	}
	if brokerCalled {
		t.Error("checks after the first failure must not run")
	}
	if !strings.HasPrefix(fatal.Diagnostic(), "ERROR: store check failed") {
		t.Errorf("unexpected diagnostic: %q", fatal.Diagnostic())
	}
}

func TestRun_AllPass(t *testing.T) {
	err := Run(context.Background(), nil, 0,
		DataDir(t.TempDir()),
		Store(fakePinger{}),
		Broker("tcp://localhost:1883", func(context.Context) error { return nil }),
	)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
