// cmd/patient-service/main.go
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

const serviceName = "patient-service"

// main 组装患者侧的券副本。与监护人服务共用同一套副本实现，
// 只是 OwnerKind 和消费组不同，两边各自过滤自己受众的事件。
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
	replica := application.NewReplicaService(domain.OwnerPatient, repo, deduper, tracer)
	handler := interfaces.NewReplicaHandler(replica)

	consumer := infrastructure.NewReplicationConsumer(cfg.Infra.Kafka.Brokers, serviceName, replica)
	defer consumer.Close()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8083,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Workers: []func(ctx context.Context) error{consumer.Run},
	})
}
