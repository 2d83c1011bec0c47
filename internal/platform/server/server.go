package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName はヘルスチェックで公開するサービス名です。
const ServiceName = "userstore.v1.UserStore"

const defaultCheckInterval = 10 * time.Second

// CheckFunc は依存先 (データベース等) の疎通確認を行います。
type CheckFunc func(ctx context.Context) error

// Server は gRPC ヘルスサーバーのライフサイクルを管理します。
type Server struct {
	listenAddr    string
	grpcServer    *grpc.Server
	health        *health.Server
	check         CheckFunc
	checkInterval time.Duration
	logger        *slog.Logger
}

// Option は Server の挙動を調整します。
type Option func(*Server)

// WithCheckInterval は疎通確認の間隔を設定します。
func WithCheckInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.checkInterval = d
		}
	}
}

// WithLogger はログ出力先を設定します。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New は指定されたアドレスで待ち受ける gRPC サーバーを構築します。
// check が成功している間だけ SERVING を返します。
func New(listenAddr string, check CheckFunc, opts ...Option) *Server {
	srv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)

	s := &Server{
		listenAddr:    listenAddr,
		grpcServer:    srv,
		health:        healthSrv,
		check:         check,
		checkInterval: defaultCheckInterval,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Run はサーバーを起動し、コンテキストがキャンセルされると GracefulStop します。
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.listenAddr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve は既存のリスナーで待ち受けます。
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)

	go func() {
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpcServer.GracefulStop()
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()

	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	return nil
}

// Refresh は疎通確認を 1 回行い、結果をヘルスステータスに反映します。
func (s *Server) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.check != nil {
		if err := s.check(ctx); err != nil {
			s.logger.WarnContext(ctx, "health check failed", slog.Any("error", err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.setStatus(status)
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// GracefulStop はサーバーを安全に停止します。
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}
