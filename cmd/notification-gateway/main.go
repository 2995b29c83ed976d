// cmd/notification-gateway/main.go
package main

import (
	"context"

	"caremesh/internal/pkg/bootstrap"
	"caremesh/internal/service/notification"
)

const serviceName = "notification-gateway"

// main 组装通知网关：消费券的到期提醒并通过 WebSocket 推给在线用户。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	hub := notification.NewHub()
	consumer := notification.NewNoticeConsumer(cfg.Infra.Kafka.Brokers, serviceName, hub)
	defer consumer.Close()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8088,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/ws", hub.ServeWS)
		},
		Workers: []func(ctx context.Context) error{hub.Run, consumer.Run},
	})
}
