package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/utrading/utrading-copy-engine/config"
	"github.com/utrading/utrading-copy-engine/internal/cleaner"
	"github.com/utrading/utrading-copy-engine/internal/dal"
	"github.com/utrading/utrading-copy-engine/internal/dao"
	"github.com/utrading/utrading-copy-engine/internal/engine"
	"github.com/utrading/utrading-copy-engine/internal/exchange"
	"github.com/utrading/utrading-copy-engine/internal/monitor"
	"github.com/utrading/utrading-copy-engine/internal/nats"
	"github.com/utrading/utrading-copy-engine/internal/vault"
	"github.com/utrading/utrading-copy-engine/pkg/logger"
	"github.com/utrading/utrading-copy-engine/pkg/sigproc"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "cfg.toml", "config file path")
	flag.Parse()

	// 本地开发时从 .env 加载环境变量，生产由编排器注入
	_ = godotenv.Load()

	// 加载配置
	if err := config.Init(configFile); err != nil {
		panic(err)
	}
	cfg := config.Get()

	// 初始化日志
	if err := initLogger(cfg); err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Close()

	logger.Info().Msg("copy_engine service starting...")

	// 初始化指标
	monitor.InitMetrics()

	// 初始化数据库
	dal.InitMysqlDB(cfg.MySQL)

	// 自动迁移表结构
	dal.AutoMigrate()

	// 初始化 DAO
	dao.InitDAO(dal.MySQL())

	// 台账清理器
	dataCleaner := cleaner.NewCleaner(dal.MySQL())
	dataCleaner.Start()

	// 凭证加密密钥，缺失直接拒绝启动
	keyHex := os.Getenv(cfg.Vault.EncryptionKeyEnv)
	if keyHex == "" {
		logger.Fatal().Str("env", cfg.Vault.EncryptionKeyEnv).Msg("encryption key not set")
	}
	v, err := vault.New(keyHex)
	if err != nil {
		logger.Fatal().Err(err).Msg("init credential vault failed")
	}

	// 初始化 NATS 发布器
	publisher, err := nats.NewPublisher(cfg.NATS.Endpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("init nats publisher failed")
	}
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 交易所网关工厂
	factory := exchange.NewFactory(cfg.Exchange)

	// 执行编排器
	orchestrator, err := engine.NewOrchestrator(
		engine.NewStore(),
		v,
		factory,
		publisher,
		cfg.Engine,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("init orchestrator failed")
	}

	// 生命周期事件消费者
	consumer, err := nats.NewConsumer(cfg.NATS.Endpoint, orchestrator, dao.ProviderTrade())
	if err != nil {
		logger.Fatal().Err(err).Msg("init nats consumer failed")
	}
	if err = consumer.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start nats consumer failed")
	}

	// 初始化健康检查服务器
	healthServer := monitor.NewHealthServer(
		cfg.Engine.HealthServerAddr,
		orchestrator,
		consumer,
		publisher,
	)
	if err = healthServer.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start health server failed")
	}
	defer healthServer.Stop(context.Background())

	logger.Info().
		Str("nats", cfg.NATS.Endpoint).
		Str("health_addr", cfg.Engine.HealthServerAddr).
		Msg("copy_engine service started successfully")

	// 优雅关闭
	sigproc.GracefulShutdown(func(sig os.Signal) {
		logger.Info().Str("signal", sig.String()).Msg("shutting down...")

		// 停止台账清理器
		dataCleaner.Stop()

		// 先停止消费新事件，在途任务继续执行
		consumer.Stop()

		cancel()

		// 等待编排器排空
		orchestrator.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		healthServer.Stop(shutdownCtx)

		// 关闭配置重载
		config.Stop()

		// 关闭数据库
		dal.CloseMySQL()

		logger.Info().Msg("copy_engine service stopped")
	})

	<-ctx.Done()
}

func initLogger(cfg *config.Config) error {
	return logger.NewBuilder().
		SetMaxSize(cfg.Logger.MaxSize).
		SetMaxBackups(cfg.Logger.MaxBackups).
		SetMaxAge(cfg.Logger.MaxAge).
		SetLevel(cfg.Logger.Level).
		EnableCompression(cfg.Logger.Compress).
		EnableConsoleOutput(cfg.Logger.Console).
		Build()
}
