// cmd/payment-service/main.go
package main

import (
	"log"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"caremesh/internal/pkg/bootstrap"
	"caremesh/internal/pkg/httpclient"
	"caremesh/internal/service/payment/application"
	"caremesh/internal/service/payment/infrastructure"
	"caremesh/internal/service/payment/interfaces"
)

const serviceName = "payment-service"

// main 组装支付协调器：两阶段核销 + 冲突补偿退款。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	db, err := gorm.Open(mysql.Open(cfg.Infra.Mysql.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}
	redemptionRepo, err := infrastructure.NewGormRedemptionRepository(db)
	if err != nil {
		log.Fatalf("failed to initialize redemption repository: %v", err)
	}

	refunds := infrastructure.NewKafkaRefundPublisher(cfg.Infra.Kafka.Brokers)
	defer refunds.Close()

	tracer := otel.Tracer(serviceName)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8084,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			// 账本客户端依赖 Nacos 做服务发现，由 bootstrap 注入
			ledger := infrastructure.NewLedgerHTTPClient(appCtx.Nacos, httpclient.NewClient(tracer))
			coordinator := application.NewRedemptionCoordinator(
				ledger, refunds, redemptionRepo, tracer,
				cfg.Payment.ValidateTimeout.Std(), cfg.Payment.ConfirmTimeout.Std(),
			)
			interfaces.NewCoordinatorHandler(coordinator).RegisterRoutes(appCtx.Mux)
		},
	})
}
