// cmd/supervisor-service/main.go
package main

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"caremesh/internal/pkg/bootstrap"
	"caremesh/internal/pkg/redis"
	"caremesh/internal/service/allocation/application"
	"caremesh/internal/service/allocation/domain"
	"caremesh/internal/service/allocation/infrastructure"
	"caremesh/internal/service/allocation/interfaces"
)

const serviceName = "supervisor-service"

// main 组装监护人侧的券副本：消费账本事件，向监护人端提供查询和本地预留。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	db, err := gorm.Open(mysql.Open(cfg.Infra.Mysql.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}
	repo, err := infrastructure.NewGormAllocationRepository(db)
	if err != nil {
		log.Fatalf("failed to initialize allocation repository: %v", err)
	}

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addr)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()
	deduper := infrastructure.NewRedisEventDeduper(redisClient, serviceName)

	tracer := otel.Tracer(serviceName)
	replica := application.NewReplicaService(domain.OwnerSupervisor, repo, deduper, tracer)
	handler := interfaces.NewReplicaHandler(replica)

	consumer := infrastructure.NewReplicationConsumer(cfg.Infra.Kafka.Brokers, serviceName, replica)
	defer consumer.Close()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8082,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Workers: []func(ctx context.Context) error{consumer.Run},
	})
}
