package appmanager

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"CommissionEngine/internal/logger"
	"CommissionEngine/internal/session"
)

const servicesYAML = `
services:
  - name: gateway
    start_order: 4
    config:
      port: 8081
  - name: logger
    start_order: 1
    config:
      folder_path: ./logs
      console: false
  - name: cron
    start_order: 3
    config:
      ledger_sweep_schedule: "*/30 * * * *"
  - name: resourcemanager
    start_order: 2
    config:
      heartbeat_interval: 30s
  - name: fx
    start_order: 5
`

func TestLoadServiceSequence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte(servicesYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfgs, err := LoadServiceSequence(path)
	if err != nil {
		t.Fatalf("LoadServiceSequence: %v", err)
	}
	var names []string
	for _, c := range cfgs {
		names = append(names, c.Name)
	}
	if want := []string{"logger", "resourcemanager", "cron", "gateway", "fx"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("order = %v, want %v", names, want)
	}
	if got := ServiceConfigFor(cfgs, "gateway")["port"]; got != 8081 {
		t.Fatalf("gateway port = %v", got)
	}
	if got := ServiceConfigFor(cfgs, "missing"); len(got) != 0 {
		t.Fatalf("missing config = %v", got)
	}
}

func TestAutoRegisterServices(t *testing.T) {
	// Not parallel: registers the global logger.
	prev := logger.GlobalLogger
	defer logger.SetGlobalLogger(prev)

	cfgs := []ServiceConfig{
		{Name: "logger", StartOrder: 1, Config: map[string]interface{}{"folder_path": t.TempDir(), "console": false}},
		{Name: "resourcemanager", StartOrder: 2},
		{Name: "cron", StartOrder: 3},
		{Name: "gateway", StartOrder: 4},
		{Name: "fx", StartOrder: 5},
	}
	am := NewAppManager()
	deps := &Dependencies{Sessions: session.NewManager(time.Minute)}
	am.AutoRegisterServices(cfgs, deps)

	if want := []string{"logger", "resourcemanager", "cron", "gateway"}; !reflect.DeepEqual(am.Names(), want) {
		t.Fatalf("services = %v, want %v", am.Names(), want)
	}
	if logger.GlobalLogger == nil || logger.GlobalLogger != deps.Logger {
		t.Fatalf("global logger not registered")
	}
	if am.GetServiceByName("cron") == nil || am.GetServiceByName("fx") != nil {
		t.Fatalf("GetServiceByName mismatch")
	}
}
