package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-discovery/internal/api"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/logging"
)

const testSecret = "test-secret-for-development-only-32chars"

// freePorts returns an unused TCP port and an unused UDP port on loopback.
func freePorts(t *testing.T) (tcpPort, udpPort int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving TCP port: %v", err)
	}
	tcpPort = ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving UDP port: %v", err)
	}
	udpPort = pc.LocalAddr().(*net.UDPAddr).Port
	pc.Close()

	return tcpPort, udpPort
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

// TestRun_MissingSecret verifies validation rejects a config without a JWT secret.
func TestRun_MissingSecret(t *testing.T) {
	path := writeConfig(t, `
site:
  id: test-site
database:
  path: "`+filepath.Join(t.TempDir(), "d.db")+`"
mqtt:
  enabled: false
`)
	t.Setenv("GRAYLOGIC_CONFIG", path)
	t.Setenv("GRAYLOGIC_JWT_SECRET", "")

	err := run(context.Background())
	if err == nil {
		t.Fatal("run() should fail without a JWT secret")
	}
	if !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Errorf("run() error = %v, want jwt secret error", err)
	}
}

// TestRun_StartsAndStops runs the whole service without MQTT or InfluxDB
// and shuts it down through the context.
func TestRun_StartsAndStops(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full service start in short mode")
	}

	apiPort, udpPort := freePorts(t)
	dataDir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
site:
  id: test-site
database:
  path: "%s"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: false
influxdb:
  enabled: false
logging:
  level: error
  format: text
  output: stdout
api:
  host: "127.0.0.1"
  port: %d
discovery:
  protocol: beacon
  listen:
    address: "127.0.0.1"
    port: %d
    broadcast: false
  receive_timeout: 100ms
  staleness_threshold: 5s
  scan_on_start: true
security:
  jwt:
    secret: "%s"
`, filepath.Join(dataDir, "discovery.db"), apiPort, udpPort, testSecret))
	t.Setenv("GRAYLOGIC_CONFIG", path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", apiPort)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(healthURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status = %d, want 200", resp.StatusCode)
			}
			break
		}
		select {
		case runErr := <-errCh:
			t.Fatalf("run() exited early: %v", runErr)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("service did not become healthy: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(filepath.Join(dataDir, "discovery.db")); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("GRAYLOGIC_CONFIG", "/etc/graylogic/discovery.yaml")
	if got := getConfigPath(); got != "/etc/graylogic/discovery.yaml" {
		t.Errorf("getConfigPath() = %q, want /etc/graylogic/discovery.yaml", got)
	}
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	ok := checkFunc(func(context.Context) error { return nil })
	down := checkFunc(func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name       string
		components map[string]api.HealthChecker
		wantErr    string
	}{
		{"all healthy", map[string]api.HealthChecker{"database": ok}, ""},
		{"disabled skipped", map[string]api.HealthChecker{"database": ok, "mqtt": nil}, ""},
		{"failure named", map[string]api.HealthChecker{"influxdb": down}, "influxdb: down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := healthCheck(context.Background(), tt.components)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("healthCheck() error = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("healthCheck() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewEngine(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")

	tests := []struct {
		name     string
		protocol string
		pattern  string
		wantErr  bool
	}{
		{"knxip", "knxip", "", false},
		{"beacon with pattern", "beacon", "47 4c 42", false},
		{"unknown protocol", "zigbee", "", true},
		{"bad pattern", "beacon", "zz", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Discovery.Protocol = tt.protocol
			cfg.Discovery.Beacon.Pattern = tt.pattern
			cfg.Discovery.Listen.Port = 3671

			engine, err := newEngine(cfg, nil, log)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newEngine() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && engine.Protocol() != tt.protocol {
				t.Errorf("Protocol() = %q, want %q", engine.Protocol(), tt.protocol)
			}
		})
	}
}
