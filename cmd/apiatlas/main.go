package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apiatlas/internal/config"
	"apiatlas/internal/logger"
	cdptap "apiatlas/internal/observer/cdp"
	"apiatlas/internal/observer/fallback"
	"apiatlas/pkg/api"
)

// main 无界面宿主入口：装配捕获管道并附加 CDP 观察者，
// 域名升级请求仅记入日志，由外部调用方归属
func main() {
	cfg, err := config.Load(os.Getenv("APIATLAS_DATA_DIR"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	l := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.LogFile(),
	})

	svc := api.NewService(cfg, l)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 升级请求在无界面模式下只做日志输出
	go func() {
		for esc := range svc.SubscribeEscalations() {
			l.Info("等待域名归属", "kind", string(esc.Kind), "domains", esc.Domains)
		}
	}()

	obs := cdptap.New(cdptap.Options{
		DevToolsURL:    cfg.Capture.DevToolsURL,
		CookieInterval: 30 * time.Second,
	}, svc.SubmitExchange, l)

	scanner := fallback.New(obs.Evaluate, svc.SubmitExchange, 10*time.Second, l)
	obs.SetCapturedHook(scanner.MarkCaptured)

	if err := obs.Start(ctx); err != nil {
		l.Err(err, "附加 CDP 观察者失败", "devtools", cfg.Capture.DevToolsURL)
		os.Exit(1)
	}
	defer obs.Stop()

	if err := scanner.Start(ctx); err != nil {
		l.Err(err, "启动兜底扫描失败")
	}
	defer scanner.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	l.Info("收到退出信号，开始停机")
}
