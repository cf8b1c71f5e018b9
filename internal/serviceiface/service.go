package serviceiface

import "context"

// Service is a unit started and stopped by the app manager in services.yaml order.
type Service interface {
	Name() string
	Start() error
	Stop() error
}

// Pinger is an upstream handle whose reachability the resource manager checks.
type Pinger interface {
	Ping(ctx context.Context) error
}
