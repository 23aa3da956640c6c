package main

import (
	"log"

	"github.com/oumi-open-ai/AIShortX-sub001/config"
	"github.com/oumi-open-ai/AIShortX-sub001/logging"
	"github.com/oumi-open-ai/AIShortX-sub001/models"
	"github.com/oumi-open-ai/AIShortX-sub001/routers"
	"github.com/oumi-open-ai/AIShortX-sub001/routers/api"
	"github.com/oumi-open-ai/AIShortX-sub001/service"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func main() {
	config.InitConfig()
	cfg := config.AppConfig

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	logger.Info("server starting", zap.String("port", cfg.Server.Port))

	models.InitDB()
	logger.Info("database initialized")

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password}
	queue := service.InitQueue(redisOpt)
	defer queue.Close()
	logger.Info("queue initialized")

	store, err := service.NewMinIOStore(service.MinIOConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
		Domain:    cfg.MinIO.Domain,
	}, logger.Named("oss"))
	if err != nil {
		logger.Fatal("minio init failed", zap.Error(err))
	}
	logger.Info("minio initialized")

	processor := service.NewProcessor(models.GormDB, cfg.Worker.Addr, store, logger.Named("processor"))
	srv, err := processor.StartProcessor(redisOpt, 5)
	if err != nil {
		logger.Fatal("processor start failed", zap.Error(err))
	}
	defer srv.Shutdown()

	gen := service.NewGenerator(models.GormDB, queue, cfg.Worker.Addr, logger.Named("generator"))
	r := routers.InitRouter(api.NewHandler(models.GormDB, gen, logger.Named("api")))
	if err := r.Run(cfg.Server.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
