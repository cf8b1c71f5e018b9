package appmanager

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"CommissionEngine/api"
	"CommissionEngine/internal/dashboard"
	"CommissionEngine/internal/jobs"
	"CommissionEngine/internal/ledger"
	"CommissionEngine/internal/logger"
	"CommissionEngine/internal/resource"
	"CommissionEngine/internal/serviceiface"
	"CommissionEngine/internal/session"

	"gopkg.in/yaml.v3"
)

// Dependencies are the long-lived handles main opens before the services are built.
type Dependencies struct {
	Logger   *logger.LoggerService
	Runner   api.Runner
	Store    ledger.Store
	Sessions *session.Manager
	// Upstreams are pinged by the resource manager, keyed by display name.
	Upstreams map[string]serviceiface.Pinger

	resources *resource.ResourceManager
}

var serviceConstructors = map[string]func(map[string]interface{}, *Dependencies) serviceiface.Service{
	"logger": func(cfg map[string]interface{}, deps *Dependencies) serviceiface.Service {
		if deps.Logger != nil {
			return deps.Logger
		}
		deps.Logger = logger.NewLoggerService(cfg)
		return deps.Logger
	},
	"resourcemanager": func(cfg map[string]interface{}, deps *Dependencies) serviceiface.Service {
		rm := resource.NewResourceManagerService(cfg)
		for name, p := range deps.Upstreams {
			rm.AddResource(name, p)
		}
		deps.resources = rm
		return rm
	},
	"cron": func(cfg map[string]interface{}, deps *Dependencies) serviceiface.Service {
		return jobs.NewCronService(cfg, deps.Store, deps.Sessions)
	},
	"gateway": func(cfg map[string]interface{}, deps *Dependencies) serviceiface.Service {
		ping := 30 * time.Second
		if s, ok := cfg["progress_ping_interval"].(string); ok {
			if d, err := time.ParseDuration(s); err == nil {
				ping = d
			}
		}
		progress := dashboard.NewSSEServer(ping, logger.Get())
		gw := api.NewGateway(deps.Runner, deps.Store, deps.Sessions, progress, deps.resources)
		return api.NewGatewayService(cfg, gw)
	},
}

// ------------------- MANAGER -------------------

type AppManager struct {
	services []serviceiface.Service
	mu       sync.Mutex
}

func NewAppManager() *AppManager {
	return &AppManager{
		services: make([]serviceiface.Service, 0),
	}
}

func (am *AppManager) RegisterService(s serviceiface.Service) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.services = append(am.services, s)
}

// StartAll starts the services in registration order, keeping the resource manager for last so
// its first heartbeat sees every upstream already wired.
func (am *AppManager) StartAll() error {
	am.mu.Lock()
	defer am.mu.Unlock()

	log := logger.Get()
	for _, service := range am.services {
		if service.Name() == "resourcemanager" {
			continue
		}
		log.Info().Str("service", service.Name()).Msg("starting service")
		if err := service.Start(); err != nil {
			return fmt.Errorf("failed to start service %s: %w", service.Name(), err)
		}
	}
	for _, service := range am.services {
		if service.Name() == "resourcemanager" {
			log.Info().Str("service", service.Name()).Msg("starting service")
			if err := service.Start(); err != nil {
				return fmt.Errorf("failed to start service %s: %w", service.Name(), err)
			}
		}
	}
	return nil
}

// StopAll stops the services in reverse order and reports the first failure after trying all.
func (am *AppManager) StopAll() error {
	am.mu.Lock()
	defer am.mu.Unlock()
	var first error
	for i := len(am.services) - 1; i >= 0; i-- {
		svc := am.services[i]
		if err := svc.Stop(); err != nil && first == nil {
			first = fmt.Errorf("failed to stop service %s: %w", svc.Name(), err)
		}
	}
	return first
}

// ------------------- YAML CONFIG -------------------

type ServiceSequencer struct {
	Services []ServiceConfig `yaml:"services"`
}

type ServiceConfig struct {
	Name       string                 `yaml:"name"`
	StartOrder int                    `yaml:"start_order"`
	Config     map[string]interface{} `yaml:"config"`
}

func LoadServiceSequence(path string) ([]ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seq ServiceSequencer
	if err := yaml.Unmarshal(data, &seq); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	sort.SliceStable(seq.Services, func(i, j int) bool {
		return seq.Services[i].StartOrder < seq.Services[j].StartOrder
	})
	return seq.Services, nil
}

// ServiceConfigFor returns the config map of the named service, or an empty map.
func ServiceConfigFor(configs []ServiceConfig, name string) map[string]interface{} {
	for _, c := range configs {
		if c.Name == name && c.Config != nil {
			return c.Config
		}
	}
	return map[string]interface{}{}
}

// AutoRegisterServices builds every known service of configs, in order. Unknown names are logged
// and skipped.
func (am *AppManager) AutoRegisterServices(configs []ServiceConfig, deps *Dependencies) {
	for _, svc := range configs {
		constructor, ok := serviceConstructors[svc.Name]
		if !ok {
			logger.Get().Warn().Str("service", svc.Name).Msg("unknown service in services.yaml")
			continue
		}
		cfg := svc.Config
		if cfg == nil {
			cfg = map[string]interface{}{}
		}
		am.RegisterService(constructor(cfg, deps))
	}

	for _, svc := range am.services {
		if l, ok := svc.(*logger.LoggerService); ok {
			logger.SetGlobalLogger(l)
			break
		}
	}
}

func (am *AppManager) GetServiceByName(name string) serviceiface.Service {
	am.mu.Lock()
	defer am.mu.Unlock()
	for _, svc := range am.services {
		if svc.Name() == name {
			return svc
		}
	}
	return nil
}

// Names lists the registered services in start order.
func (am *AppManager) Names() []string {
	am.mu.Lock()
	defer am.mu.Unlock()
	out := make([]string, len(am.services))
	for i, svc := range am.services {
		out[i] = svc.Name()
	}
	return out
}
