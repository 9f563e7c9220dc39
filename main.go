package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/iowanobos/mq-source/broker"
	"github.com/iowanobos/mq-source/broker/kafka"
	"github.com/iowanobos/mq-source/broker/memory"
	"github.com/iowanobos/mq-source/broker/nats"
	"github.com/iowanobos/mq-source/consumer"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	configPrefix = "MQ"
)

type config struct {
	consumer.Options `yaml:",inline"`

	Broker          string        `envconfig:"BROKER" yaml:"broker" default:"kafka"`
	LogLevel        string        `envconfig:"LOG_LEVEL" yaml:"log.level" default:"info"`
	MetricsAddr     string        `envconfig:"METRICS_ADDR" yaml:"metrics.addr" default:":9090"`
	ConfigFile      string        `envconfig:"CONFIG_FILE" yaml:"-"`
	ProduceInterval time.Duration `envconfig:"PRODUCE_INTERVAL" yaml:"produce.interval" default:"100ms"`
}

func loadConfig() (*config, error) {
	cfg := new(config)
	if err := envconfig.Process(configPrefix, cfg); err != nil {
		return nil, err
	}
	if cfg.ConfigFile == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", cfg.ConfigFile, err)
	}
	return cfg, nil
}

func main() {
	help := flag.Bool("h", false, "print the supported environment variables")
	flag.Parse()
	if *help {
		if err := envconfig.Usage(configPrefix, new(config)); err != nil {
			logrus.WithError(err).Fatal("print usage failed")
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("load config failed")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("invalid log level")
	}
	logrus.SetLevel(level)

	var mem *memory.Broker
	newFactory := func(desc broker.ConnectionDescriptor) (broker.ConnectionFactory, error) {
		switch cfg.Broker {
		case "kafka":
			return kafka.NewFactory(desc)
		case "nats":
			return nats.NewFactory(desc)
		case "memory":
			mem = memory.New()
			return mem, nil
		}
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}

	if err := consumer.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		logrus.WithError(err).Fatal("register metrics failed")
	}

	pool := consumer.NewPool()
	src := consumer.NewSource(newFactory, pool)
	if err := src.Init(new(logSink), cfg.Options); err != nil {
		logrus.WithError(err).Fatal("init source failed")
	}
	if err := src.Connect(&reconnectSupervisor{src: src}); err != nil {
		logrus.WithError(err).Fatal("connect source failed")
	}

	ctx, cancel := context.WithCancel(context.Background())

	server := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	var eg errgroup.Group
	eg.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if mem != nil {
		eg.Go(func() error {
			return runProducer(ctx, mem, cfg.Destination, cfg.ProduceInterval)
		})
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	<-sigc

	logrus.Info("Start shutdowning")
	cancel()
	src.Disconnect()
	src.Destroy()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("metrics server shutdown failed")
	}
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Error("shutdown failed")
	}
	logrus.Info("Application shut downing...")
}

type logSink struct{}

func (s *logSink) Deliver(_ context.Context, payload consumer.Payload, properties map[string]string) {
	logrus.WithFields(logrus.Fields{
		"kind":       payload.Kind(),
		"properties": properties,
	}).Infof("Read. Value: %v", payload.Value())
}

// reconnectSupervisor retries for as long as the outage lasts; the retry
// handler paces the attempts.
type reconnectSupervisor struct {
	src *consumer.Source
}

func (s *reconnectSupervisor) OnConnectionUnavailable(cause error) {
	logrus.WithError(cause).Warn("connection unavailable, reconnecting")
	s.src.Reconnect()
}

func (s *reconnectSupervisor) OnConnectionRestored() {
	logrus.Info("connection restored")
}

// runProducer feeds the in-memory broker so the source has something to
// consume when no real broker is configured.
func runProducer(ctx context.Context, mem *memory.Broker, destination string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			id := uuid.NewString()
			mem.PublishText(destination, id)
			logrus.Debugf("Write. Value: %s", id)
		}
	}
}
