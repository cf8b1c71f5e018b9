package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"CommissionEngine/api/constants"
	"CommissionEngine/internal/logger"
)

type GatewayService struct {
	config  map[string]interface{}
	gateway *Gateway
	server  *http.Server
}

func NewGatewayService(cfg map[string]interface{}, gateway *Gateway) *GatewayService {
	return &GatewayService{config: cfg, gateway: gateway}
}

func (s *GatewayService) Name() string {
	return "gateway"
}

func (s *GatewayService) addr() string {
	switch v := s.config["port"].(type) {
	case int:
		return fmt.Sprintf(":%d", v)
	case string:
		if v != "" {
			return ":" + v
		}
	}
	return constants.DefaultGatewayAddr
}

func (s *GatewayService) Start() error {
	s.server = &http.Server{
		Addr:              s.addr(),
		Handler:           s.gateway.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Get().Info().Str("addr", s.server.Addr).Msg("gateway listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Get().Error().Err(err).Msg("gateway server failed")
		}
	}()
	return nil
}

func (s *GatewayService) Stop() error {
	if s.server == nil {
		return nil
	}
	s.gateway.progress.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
