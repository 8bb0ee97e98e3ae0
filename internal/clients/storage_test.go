package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStorage_GetURL(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := NewLocalStorage(tmpDir, "/files", "http://ledger.example.com:8060")
	if err != nil {
		t.Fatalf("storage init: %v", err)
	}
	got := c.GetURL("assessment_ledger_ASM-1.xlsx")
	want := "http://ledger.example.com:8060/files/assessment_ledger_ASM-1.xlsx"
	if got != want {
		t.Errorf("absolute URL = %s, want %s", got, want)
	}

	c2, _ := NewLocalStorage(tmpDir, "files", "")
	if got := c2.GetURL("payments.xlsx"); got != "/files/payments.xlsx" {
		t.Errorf("relative URL = %s, want /files/payments.xlsx", got)
	}
}

func TestStorage_SaveAndDownload(t *testing.T) {
	tmpDir := t.TempDir()
	c, err := NewLocalStorage(tmpDir, "/files", "")
	if err != nil {
		t.Fatalf("storage init: %v", err)
	}

	content := []byte("workbook bytes")
	saved, err := c.Save(context.Background(), "payments export 2026.xlsx", content)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasSuffix(saved, "_payments export 2026.xlsx") {
		t.Fatalf("saved name %q does not keep the original suffix", saved)
	}

	// the download handler the server wires up: serve from BaseDir, restore
	// the original name in Content-Disposition
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file := strings.TrimPrefix(r.URL.Path, "/files/")
		path := filepath.Join(c.BaseDir, file)
		if _, err := os.Stat(path); err != nil {
			http.NotFound(w, r)
			return
		}
		if idx := strings.IndexByte(file, '_'); idx >= 0 {
			file = file[idx+1:]
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+file+"\"")
		http.ServeFile(w, r, path)
	})

	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Get(ts.URL + c.GetURL(saved))
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "payments export 2026.xlsx") {
		t.Errorf("Content-Disposition = %q, want the original filename", cd)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(content) {
		t.Errorf("downloaded content = %q, want %q", body, content)
	}
}

func TestStorage_CleanupOlderThan(t *testing.T) {
	tmpDir := t.TempDir()
	c, err := NewLocalStorage(tmpDir, "/files", "")
	if err != nil {
		t.Fatalf("storage init: %v", err)
	}

	stale, err := c.Save(context.Background(), "stale.xlsx", []byte("old"))
	if err != nil {
		t.Fatalf("save stale: %v", err)
	}
	fresh, err := c.Save(context.Background(), "fresh.xlsx", []byte("new"))
	if err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(tmpDir, stale), past, past); err != nil {
		t.Fatalf("age stale file: %v", err)
	}

	if err := c.CleanupOlderThan(time.Hour); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, stale)); !os.IsNotExist(err) {
		t.Errorf("stale file survived cleanup")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, fresh)); err != nil {
		t.Errorf("fresh file removed by cleanup: %v", err)
	}
}
