// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"caremesh/internal/pkg/logger"
	"caremesh/internal/pkg/nacos"
	"caremesh/internal/pkg/tracing"
	"caremesh/internal/pkg/utils"
)

// AppCtx 在注册路由时传给各服务，暴露通用的依赖。
type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx)
	// Workers 是随服务生命周期运行的后台任务：Kafka 消费者、过期扫描器等。
	// ctx 被取消后，任务应当尽快返回。
	Workers []func(ctx context.Context) error
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	logger.Init(info.ServiceName)

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracer provider: %v", err)
	}

	// 2. Nacos 注册
	namingClient, err := nacos.NewClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		log.Fatalf("failed to initialize nacos client: %v", err)
	}

	ip, err := utils.GetOutboundIP()
	if err != nil {
		log.Fatalf("failed to get outbound IP address: %v", err)
	}

	if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		log.Fatalf("failed to register service with nacos: %v", err)
	}

	// 3. HTTP Server：每个服务都带 healthz 和 prometheus metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}

	go func() {
		log.Printf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v", server.Addr, err)
		}
	}()

	// 4. 后台任务统一由 errgroup 管理，任何一个任务异常退出都会拉倒整个进程的取消信号
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	g, workerCtx := errgroup.WithContext(workerCtx)
	for _, w := range info.Workers {
		worker := w
		g.Go(func() error { return worker(workerCtx) })
	}

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutting down service %s...", info.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关停顺序：先摘流量，再停后台任务，最后刷掉缓冲的 trace
	if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		log.Printf("Error deregistering from Nacos: %v", err)
	}

	cancelWorkers()
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("Background worker exited with error: %v", err)
	}

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down http server: %v", err)
	}

	if err := tp.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down tracer provider: %v", err)
	}

	log.Printf("Service %s gracefully shut down.", info.ServiceName)
}
