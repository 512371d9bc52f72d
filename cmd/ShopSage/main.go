package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	http_server "ShopSage/api/http"
	"ShopSage/internal/config"
	"ShopSage/pkg/redis"
	"ShopSage/pkg/zlog"
)

func main() {
	// 1. 加载配置
	conf := config.GetConfig()
	host := conf.MainConfig.Host
	port := conf.MainConfig.Port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 启动摄取 worker（Kafka 配置时）
	if http_server.IngestWorker != nil {
		go func() {
			if err := http_server.IngestWorker.Run(ctx); err != nil && ctx.Err() == nil {
				zlog.Error("摄取 worker 退出: " + err.Error())
			}
		}()
	}

	// 3. 启动 HTTP 服务
	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		zlog.Info(fmt.Sprintf("服务器正在启动，监听地址: %s", addr))
		if err := http_server.GE.Run(addr); err != nil {
			zlog.Fatal("服务器启动失败: " + err.Error())
			return
		}
	}()

	// 4. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务器...")
	cancel()
	_ = redis.Close()
	zlog.Info("服务器已关闭")
}
