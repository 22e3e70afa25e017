package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jmedge/internal/jmedge"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", getenvDefault("JMEDGE_CONFIG", "/jmedge.yaml"), "path to jmedge.yaml")
	flag.Parse()

	cfg, err := jmedge.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	svc, err := jmedge.NewService(cfg)
	if err != nil {
		log.Fatalf("init service: %v", err)
	}
	defer svc.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen %s: %v", addr, err)
	}

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("jmedge listening on %s, origin=%s, version=%s", addr, cfg.Server.Origin, cfg.Cache.Version)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
			stop()
		}
	}()

	// SIGHUP rereads the config; a new cache.version rolls the cache over.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	version := cfg.Cache.Version
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return
		case <-hup:
			next, err := jmedge.LoadConfig(configPath)
			if err != nil {
				log.Printf("reload config: %v", err)
				continue
			}
			if next.Cache.Version == version {
				log.Printf("reload config: cache.version unchanged (%s)", version)
				continue
			}
			log.Printf("reload config: cache.version %s -> %s", version, next.Cache.Version)
			version = next.Cache.Version
			svc.Update(version)
		}
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
