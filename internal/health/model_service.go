package health

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/yourusername/edge-scanner/internal/config"
)

// GRPCChecker checks a service through the standard gRPC health protocol
type GRPCChecker struct {
	conn    *grpc.ClientConn
	client  grpc_health_v1.HealthClient
	service string
	timeout time.Duration
}

// NewGRPCChecker creates a lazy client for the model service health endpoint.
// No connection is attempted until the first Check.
func NewGRPCChecker(cfg config.ModelServiceConfig) (*GRPCChecker, error) {
	if cfg.GRPCAddress == "" {
		return nil, fmt.Errorf("model service grpc address is empty")
	}

	connectParams := grpc.ConnectParams{
		Backoff: backoff.Config{
			BaseDelay:  1 * time.Second,
			Multiplier: 1.6,
			Jitter:     0.2,
			MaxDelay:   5 * time.Second,
		},
		MinConnectTimeout: 5 * time.Second,
	}

	keepAlive := keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             10 * time.Second,
		PermitWithoutStream: true,
	}

	conn, err := grpc.NewClient(cfg.GRPCAddress,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(connectParams),
		grpc.WithKeepaliveParams(keepAlive),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create model service client: %w", err)
	}

	return newGRPCChecker(conn, grpc_health_v1.NewHealthClient(conn), cfg.HealthTimeout), nil
}

func newGRPCChecker(conn *grpc.ClientConn, client grpc_health_v1.HealthClient, timeout time.Duration) *GRPCChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &GRPCChecker{conn: conn, client: client, timeout: timeout}
}

// Check returns nil when the service reports SERVING
func (c *GRPCChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: c.service})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("service status %s", resp.GetStatus())
	}
	return nil
}

// Close closes the underlying connection
func (c *GRPCChecker) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
