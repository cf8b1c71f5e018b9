package resource

import (
	"context"
	"sort"
	"sync"
	"time"

	"CommissionEngine/internal/logger"
	"CommissionEngine/internal/serviceiface"
)

// Health is the last heartbeat result of one upstream.
type Health struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// ResourceManager pings the registered upstream handles (reference database, search index,
// ledger store) on every heartbeat and keeps their last status.
type ResourceManager struct {
	resources         map[string]serviceiface.Pinger
	health            map[string]Health
	mu                sync.RWMutex
	stopChan          chan struct{}
	stopOnce          sync.Once
	heartbeatInterval time.Duration
	pingTimeout       time.Duration
}

func NewResourceManagerService(cfg map[string]interface{}) *ResourceManager {
	return &ResourceManager{
		resources:         make(map[string]serviceiface.Pinger),
		health:            make(map[string]Health),
		stopChan:          make(chan struct{}),
		heartbeatInterval: duration(cfg["heartbeat_interval"], 30*time.Second),
		pingTimeout:       duration(cfg["ping_timeout"], 5*time.Second),
	}
}

func duration(val interface{}, def time.Duration) time.Duration {
	switch v := val.(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	}
	return def
}

func (rm *ResourceManager) Name() string { return "resourcemanager" }

func (rm *ResourceManager) Start() error {
	logger.Get().Info().Dur("interval", rm.heartbeatInterval).Strs("resources", rm.ListResources()).
		Msg("resource manager started")
	rm.Check(context.Background())
	go rm.heartbeatLoop()
	return nil
}

func (rm *ResourceManager) Stop() error {
	rm.stopOnce.Do(func() { close(rm.stopChan) })
	return nil
}

func (rm *ResourceManager) heartbeatLoop() {
	ticker := time.NewTicker(rm.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stopChan:
			return
		case <-ticker.C:
			rm.Check(context.Background())
		}
	}
}

// Check pings every resource once and returns the results sorted by name.
func (rm *ResourceManager) Check(ctx context.Context) []Health {
	rm.mu.RLock()
	handles := make(map[string]serviceiface.Pinger, len(rm.resources))
	for k, v := range rm.resources {
		handles[k] = v
	}
	rm.mu.RUnlock()

	log := logger.Get()
	for name, p := range handles {
		pctx, cancel := context.WithTimeout(ctx, rm.pingTimeout)
		err := p.Ping(pctx)
		cancel()

		h := Health{Name: name, Healthy: err == nil, CheckedAt: time.Now()}
		if err != nil {
			h.Error = err.Error()
			log.Warn().Err(err).Str("resource", name).Msg("heartbeat failed")
		}
		rm.mu.Lock()
		prev, seen := rm.health[name]
		rm.health[name] = h
		rm.mu.Unlock()
		if seen && !prev.Healthy && h.Healthy {
			log.Info().Str("resource", name).Msg("resource recovered")
		}
	}
	return rm.Status()
}

// Status returns the last known health of every resource.
func (rm *ResourceManager) Status() []Health {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]Health, 0, len(rm.health))
	for _, h := range rm.health {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (rm *ResourceManager) AddResource(key string, resource serviceiface.Pinger) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.resources[key] = resource
}

func (rm *ResourceManager) RemoveResource(key string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.resources, key)
	delete(rm.health, key)
}

func (rm *ResourceManager) ListResources() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	keys := make([]string, 0, len(rm.resources))
	for key := range rm.resources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
