//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// agentProcess manages a running `fieldsync serve` process.
type agentProcess struct {
	cmd     *exec.Cmd
	dataDir string
	address string
	token   string
	logFile string
}

// startAgentProcess launches the fieldsync binary against backendURL and
// waits for it to become healthy. It is configured entirely via environment
// variables.
func startAgentProcess(t *testing.T, backendURL string) *agentProcess {
	t.Helper()

	if fieldsyncBin == "" {
		t.Skip("fieldsync binary not available")
	}

	dataDir := t.TempDir()
	token := "e2e-agent-token"
	port := freePort(t)
	logFile := filepath.Join(dataDir, "fieldsync.log")

	cmd := exec.Command(fieldsyncBin, "serve")
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("FIELDSYNC_PORT=%d", port),
		"FIELDSYNC_DB_PATH="+filepath.Join(dataDir, "fieldsync.db"),
		"FIELDSYNC_TILES_DIR="+filepath.Join(dataDir, "tiles"),
		"FIELDSYNC_API_URL="+backendURL,
		"FIELDSYNC_AGENT_TOKEN="+token,
		"FIELDSYNC_MONITOR_INTERVAL=50ms",
		"FIELDSYNC_DRAIN_DELAY=1ms",
		"FIELDSYNC_CONFIG_PATH="+filepath.Join(dataDir, "nonexistent.yaml"),
	)

	lf, err := os.Create(logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start fieldsync: %v", err)
	}

	p := &agentProcess{
		cmd:     cmd,
		dataDir: dataDir,
		address: fmt.Sprintf("127.0.0.1:%d", port),
		token:   token,
		logFile: logFile,
	}

	t.Cleanup(func() {
		p.stop()
		lf.Close()
		if t.Failed() {
			if data, err := os.ReadFile(logFile); err == nil {
				t.Logf("fieldsync log:\n%s", data)
			}
		}
	})

	if err := p.waitHealthy(10 * time.Second); err != nil {
		t.Fatalf("fieldsync not healthy: %v", err)
	}
	return p
}

func (p *agentProcess) stop() {
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(os.Interrupt)
		_ = p.cmd.Wait()
	}
}

func (p *agentProcess) baseURL() string {
	return "http://" + p.address
}

func (p *agentProcess) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := p.baseURL() + "/api/v1/health"

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("fieldsync not healthy after %s", timeout)
}

// request sends an authenticated JSON request unless token is empty.
func (p *agentProcess) request(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, p.baseURL()+path, rdr)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
