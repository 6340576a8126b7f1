package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ramlog/ramlog/backup"
	"github.com/ramlog/ramlog/config"
	"github.com/ramlog/ramlog/network"
	"github.com/ramlog/ramlog/utils"
)

func main() {
	configPath := flag.String("config", "", "path to a yaml config")
	metricsAddr := flag.String("metrics", "", "address for /metrics, empty disables")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Read(*configPath)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
	}
	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}

	log := utils.NewDefaultLogger(slog.LevelInfo)

	store, err := backup.OpenStore(cfg.Storage.Dir, log)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}

	prometheus.MustRegister(backup.NewStoreCollector(store))
	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Error("metrics listener failed", "err", err)
			}
		}()
	}

	var opts []network.NetOpt
	scheme := "tcp"
	if cfg.Security.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.Security.Cert, cfg.Security.Key)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-1)
		}
		opts = append(opts, &network.NetTlsConfigOpt{Config: &tls.Config{Certificates: []tls.Certificate{cert}}})
		scheme = "tls"
	}

	srv := backup.NewServer(log, store, opts...)
	addr := fmt.Sprintf("%s://%s:%d", scheme, cfg.Node.BindAddress, cfg.Node.Port)
	if err := srv.Listen(addr); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}
	log.Info("backup serving", "addr", addr, "dir", cfg.Storage.Dir)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	_ = srv.Close()
	_ = store.Close()
}
