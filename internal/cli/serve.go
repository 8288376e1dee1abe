package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ChuLiYu/mechflow/internal/logger"
	"github.com/ChuLiYu/mechflow/internal/metrics"
	"github.com/ChuLiYu/mechflow/internal/planner"
	"github.com/ChuLiYu/mechflow/internal/transport/grpcapi"
	"github.com/ChuLiYu/mechflow/internal/transport/httpapi"
)

func buildServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC planning services",
		Long:  "Recover the task ledger and serve the planning API over HTTP and gRPC until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

// listeners 啟動前先綁定埠，位址錯誤時在恢復台帳之前就失敗
type listeners struct {
	http, grpc, metrics net.Listener
}

func (l *listeners) close() {
	for _, lis := range []net.Listener{l.http, l.grpc, l.metrics} {
		if lis != nil {
			_ = lis.Close()
		}
	}
}

func (a *app) listen() (*listeners, error) {
	cfg := a.cfg
	l := &listeners{}
	var err error

	if cfg.HTTP.Enabled {
		if l.http, err = net.Listen("tcp", cfg.HTTP.Addr); err != nil {
			return nil, err
		}
	}
	if cfg.GRPC.Enabled {
		if l.grpc, err = net.Listen("tcp", cfg.GRPC.Addr); err != nil {
			l.close()
			return nil, err
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		if l.metrics, err = net.Listen("tcp", cfg.Metrics.Addr); err != nil {
			l.close()
			return nil, err
		}
	}
	return l, nil
}

// serve 執行到 ctx 結束，然後依序關閉伺服器與 Planner
func (a *app) serve(ctx context.Context) (err error) {
	cfg := a.cfg

	lis, err := a.listen()
	if err != nil {
		return err
	}

	var opts []planner.Option
	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, planner.WithMetrics(metrics.NewCollector(reg)))
	}

	p, err := planner.New(a.plannerConfig(), opts...)
	if err != nil {
		lis.close()
		return err
	}
	if err := p.Start(ctx); err != nil {
		lis.close()
		_ = p.Stop(context.WithoutCancel(ctx))
		return err
	}
	defer func() {
		if stopErr := p.Stop(context.WithoutCancel(ctx)); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	var metricsHandler http.Handler
	if reg != nil {
		metricsHandler = metrics.Handler(reg)
	}

	var (
		httpSrv    *http.Server
		metricsSrv *http.Server
		grpcSrv    *grpc.Server
	)

	eg, egCtx := errgroup.WithContext(ctx)

	if lis.http != nil {
		var mounted http.Handler
		if lis.metrics == nil {
			mounted = metricsHandler
		}
		httpSrv = httpapi.NewServer(cfg.HTTP.Addr, httpapi.NewRouter(p, mounted), cfg.HTTP.ReadTimeout)
		eg.Go(func() error {
			logger.Info(egCtx, "🚀 http api listening", logger.String("address", lis.http.Addr().String()))
			if err := httpSrv.Serve(lis.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if lis.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		metricsSrv = httpapi.NewServer(cfg.Metrics.Addr, mux, cfg.HTTP.ReadTimeout)
		eg.Go(func() error {
			logger.Info(egCtx, "📈 metrics listening", logger.String("address", lis.metrics.Addr().String()))
			if err := metricsSrv.Serve(lis.metrics); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if lis.grpc != nil {
		grpcSrv = grpcapi.NewGRPCServer(p)
		eg.Go(func() error {
			logger.Info(egCtx, "🚀 grpc service listening", logger.String("address", lis.grpc.Addr().String()))
			return grpcSrv.Serve(lis.grpc)
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()

		//nolint:contextcheck
		sdCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range []*http.Server{httpSrv, metricsSrv} {
			if srv != nil {
				errs = append(errs, srv.Shutdown(sdCtx))
			}
		}
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		logger.Info(sdCtx, "✅ servers stopped")
		return errors.Join(errs...)
	})

	return eg.Wait()
}
