package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qtrade/riskcore/internal/approval"
	"github.com/qtrade/riskcore/internal/audit"
	"github.com/qtrade/riskcore/internal/brokersim"
	"github.com/qtrade/riskcore/internal/config"
	"github.com/qtrade/riskcore/internal/confirm"
	"github.com/qtrade/riskcore/internal/controlplane/server"
	"github.com/qtrade/riskcore/internal/domain"
	"github.com/qtrade/riskcore/internal/execution"
	"github.com/qtrade/riskcore/internal/intent"
	"github.com/qtrade/riskcore/internal/metrics"
	"github.com/qtrade/riskcore/internal/orchestrator"
	"github.com/qtrade/riskcore/internal/ports"
	"github.com/qtrade/riskcore/internal/risk"
	"github.com/qtrade/riskcore/pkg/logger"
	"github.com/qtrade/riskcore/pkg/shutdown"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		configPath = flag.String("config", getenv("RISKCORE_CONFIG", "configs/riskcore.yaml"), "配置文件路径")
		equity     = flag.Float64("equity", 1_000_000, "演练模式初始权益")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.InitDefault()
		logger.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logger); err != nil {
		os.Exit(1)
	}

	if err := run(cfg, *equity); err != nil {
		logger.Errorf("riskcored 退出: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, initialEquity float64) error {
	rc, err := cfg.BuildRisk()
	if err != nil {
		return err
	}
	bc, err := cfg.BuildBreaker()
	if err != nil {
		return err
	}
	gc, err := cfg.BuildGate()
	if err != nil {
		return err
	}
	tickInterval, err := cfg.BuildTickInterval()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sd := shutdown.NewManager()

	// 注册表（可选 badger 持久化）
	var store intent.Store
	if cfg.Registry.BadgerPath != "" {
		bs, err := intent.OpenBadgerStore(cfg.Registry.BadgerPath)
		if err != nil {
			return err
		}
		sd.OnShutdown("registry_store", func(ctx context.Context) { _ = bs.Close() })
		store = bs
	}
	registry := intent.NewRegistry(store)
	if err := registry.Restore(); err != nil {
		return err
	}

	// 审批端口
	var approver ports.Approver
	var manual *approval.ManualApprover
	if cfg.Approval.Mode == "http" && cfg.Approval.Endpoint != "" {
		approver = approval.NewHTTPApprover(cfg.Approval.Endpoint, cfg.Approval.Token)
	} else {
		manual = approval.NewManualApprover()
		approver = manual
	}

	breaker := risk.NewBreaker(bc)
	gate := confirm.NewGate(gc, breaker, approver)

	// 审计链路：主落点 + 可选滚动镜像 + 控制面 WS 广播
	var primary ports.AuditSink
	if cfg.Audit.Sink == "sqlite" {
		primary, err = audit.NewSQLiteSink(filepath.Join(cfg.Audit.Dir, "audit.db"))
	} else {
		primary, err = audit.NewFileWriter(filepath.Join(cfg.Audit.Dir, "audit.jsonl"))
	}
	if err != nil {
		return err
	}
	sd.OnShutdown("audit_sink", func(ctx context.Context) { _ = primary.Close() })

	sim := brokersim.New()
	executor := execution.NewSerialExecutor(sim, cfg.Executor.MaxRejections)
	intake := orchestrator.NewIntake()

	var taps []func(domain.AuditRecord)
	if cfg.Audit.Mirror {
		mirror := audit.NewRotatingWriter(filepath.Join(cfg.Audit.Dir, "audit_mirror.jsonl"), 0, 0)
		sd.OnShutdown("audit_mirror", func(ctx context.Context) { _ = mirror.Close() })
		taps = append(taps, func(rec domain.AuditRecord) { _ = mirror.Append(rec) })
	}

	// 编排器先组装（sink 后置：控制面 WS tap 依赖编排器的状态机）
	orch := orchestrator.New(rc, orchestrator.Deps{
		Registry:  registry,
		Gate:      gate,
		Breaker:   breaker,
		Executor:  executor,
		Transport: sim,
	})
	cp := server.New(server.Config{
		ListenAddr:  cfg.Server.ListenAddr,
		Multipliers: cfg.Multipliers,
	}, orch.Manager(), breaker, registry, intake, manual)
	taps = append(taps, cp.Publish)
	orch.SetSink(audit.NewMultiSink(primary, taps...))

	if cfg.Server.MetricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.Server.MetricsAddr); err != nil {
			return err
		}
		logger.Infof("metrics/pprof 已启动: %s", cfg.Server.MetricsAddr)
	}

	cpErr := make(chan error, 1)
	go func() { cpErr <- cp.Run(ctx) }()

	// 演练行情源：权益恒定，仓位/盘口为空，意图经控制面进线。
	// 真实接入时替换为柜台回报与行情适配层。
	snapshot := func() domain.AccountSnapshot {
		return domain.AccountSnapshot{
			Equity:    decimal.NewFromFloat(initialEquity),
			Timestamp: time.Now(),
		}
	}

	orch.OnDayStart(snapshot())
	currentDay := time.Now().Format("2006-01-02")
	logger.Infof("✅ riskcored 已启动: tick=%s listen=%s", tickInterval, cfg.Server.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	runTick := func() {
		if day := time.Now().Format("2006-01-02"); day != currentDay {
			currentDay = day
			_ = logger.RotateForDay(day)
			orch.OnDayStart(snapshot())
		}
		res := orch.Tick(ctx, orchestrator.TickInput{
			Account: snapshot(),
			Books:   map[string]domain.BookTop{},
			Intents: intake.Drain(),
		})
		if res.AuditFailures > 0 {
			logger.Errorf("tick %s 审计落盘失败 %d 条", res.CorrelationID, res.AuditFailures)
		}
	}

	for {
		select {
		case <-ticker.C:
			runTick()

		case <-intake.Notify():
			// 新意图进线：不等下一个 tick，立即推进一轮
			runTick()

		case err := <-cpErr:
			if err != nil {
				return err
			}

		case sig := <-sigCh:
			logger.Infof("收到信号 %s，开始关闭", sig)
			cancel()
			shutdownCtx, cancelSD := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelSD()
			sd.Shutdown(shutdownCtx)
			return nil
		}
	}
}
