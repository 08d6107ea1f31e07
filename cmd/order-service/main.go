package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/app"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup app.LookupFunc) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(parseLevel(lookup))
}

func parseLevel(lookup app.LookupFunc) log.Level {
	if v, ok := lookup("SHOP_LOG_LEVEL"); ok {
		if level, err := log.ParseLevel(v); err == nil {
			return level
		}
	}
	return log.InfoLevel
}

// readConfig собирает конфигурацию из значений по умолчанию и переменных SHOP_*.
func readConfig(lookup app.LookupFunc) app.Config {
	return app.ApplyEnv(app.DefaultConfig(), lookup, log.WithField("component", "config"))
}

func main() {
	setupLogger(os.LookupEnv)
	cfg := readConfig(os.LookupEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":      version.String(),
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"kafka":        len(cfg.KafkaBrokers) > 0,
	}).Info("запускаем OrderService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("OrderService остановлен")
}
