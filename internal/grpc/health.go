// Package grpc serves the standard gRPC health protocol next to the REST API
// so orchestrators can check the service without speaking HTTP.
package grpc

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the name health checks may ask about besides the empty server-wide name
const ServiceName = "library"

// ErrBrokerUnavailable is reported when the event broker connection is down
var ErrBrokerUnavailable = errors.New("event broker unavailable")

// Pinger is satisfied by *db.DB
type Pinger interface {
	Ping() error
}

// BrokerStatus is satisfied by the event publishers
type BrokerStatus interface {
	IsHealthy() bool
}

// HealthServer implements the gRPC health checking protocol
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	db     Pinger
	broker BrokerStatus
	log    *zap.Logger
}

// NewHealthServer creates a new health check server
func NewHealthServer(database Pinger, broker BrokerStatus, log *zap.Logger) *HealthServer {
	return &HealthServer{
		db:     database,
		broker: broker,
		log:    log,
	}
}

// Healthy returns the first dependency failure, or nil. The HTTP /healthz
// endpoint uses it too.
func (h *HealthServer) Healthy(ctx context.Context) error {
	if err := h.db.Ping(); err != nil {
		h.log.Error("Database health check failed", zap.Error(err))
		return fmt.Errorf("database: %w", err)
	}

	if h.broker != nil && !h.broker.IsHealthy() {
		h.log.Error("RabbitMQ health check failed")
		return ErrBrokerUnavailable
	}
	return nil
}

func (h *HealthServer) status(ctx context.Context, service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	if service != "" && service != ServiceName {
		return grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN, status.Errorf(codes.NotFound, "unknown service %q", service)
	}
	if err := h.Healthy(ctx); err != nil {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING, nil
	}
	return grpc_health_v1.HealthCheckResponse_SERVING, nil
}

// Check implements the health check
func (h *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	st, err := h.status(ctx, req.GetService())
	if err != nil {
		return nil, err
	}
	return &grpc_health_v1.HealthCheckResponse{Status: st}, nil
}

// Watch sends the current status once and closes the stream
func (h *HealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, server grpc_health_v1.Health_WatchServer) error {
	st, err := h.status(server.Context(), req.GetService())
	if err != nil {
		// the protocol reports unknown services on Watch as a status, not an error
		st = grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
	}
	return server.Send(&grpc_health_v1.HealthCheckResponse{Status: st})
}
