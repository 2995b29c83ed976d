// cmd/coupon-service/main.go
package main

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"caremesh/internal/pkg/bootstrap"
	"caremesh/internal/pkg/zookeeper"
	"caremesh/internal/service/coupon/application"
	"caremesh/internal/service/coupon/infrastructure"
	"caremesh/internal/service/coupon/infrastructure/rule"
	"caremesh/internal/service/coupon/interfaces"
)

const serviceName = "coupon-service"

// main 是券账本服务的组装根：权威状态机 + 事件发布 + 过期扫描。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	db, err := gorm.Open(mysql.Open(cfg.Infra.Mysql.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}
	if err := db.AutoMigrate(&infrastructure.CouponModel{}, &infrastructure.CouponBatchModel{}); err != nil {
		log.Fatalf("failed to migrate ledger schema: %v", err)
	}

	couponRepo := infrastructure.NewGormCouponRepository(db)
	batchRepo := infrastructure.NewGormBatchRepository(db)

	publisher := infrastructure.NewKafkaEventPublisher(cfg.Infra.Kafka.Brokers)
	defer publisher.Close()

	ruleEngine, err := rule.NewCELRuleEngine()
	if err != nil {
		log.Fatalf("failed to initialize rule engine: %v", err)
	}

	tracer := otel.Tracer(serviceName)
	ledger := application.NewLedgerService(couponRepo, batchRepo, publisher, ruleEngine, tracer)
	handler := interfaces.NewLedgerHandler(ledger)

	// 过期扫描是单写者任务，多实例部署时用 ZooKeeper 锁选主
	zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 10*time.Second)
	if err != nil {
		log.Fatalf("failed to connect to zookeeper: %v", err)
	}
	defer zkConn.Close()
	sweeperLock, err := zookeeper.NewDistributedLock(zkConn, "coupon-sweeper")
	if err != nil {
		log.Fatalf("failed to create sweeper lock: %v", err)
	}

	sweeper := application.NewExpirationSweeper(
		couponRepo, publisher, sweeperLock, tracer,
		cfg.Coupon.SweepInterval.Std(),
		time.Duration(cfg.Coupon.WarningHorizonDays)*24*time.Hour,
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8081,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Workers: []func(ctx context.Context) error{sweeper.Run},
	})
}
