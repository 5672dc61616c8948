package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/drmem/drmemd/internal/clock"
	"github.com/drmem/drmemd/internal/config"
	"github.com/drmem/drmemd/internal/diag"
	"github.com/drmem/drmemd/internal/driver"
	"github.com/drmem/drmemd/internal/drivers"
	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/fabric/durable"
	"github.com/drmem/drmemd/internal/fabric/ephemeral"
	"github.com/drmem/drmemd/internal/logging"
	"github.com/drmem/drmemd/internal/logic/engine"
	"github.com/drmem/drmemd/internal/value"
)

var version = "dev"

func main() {
	confPath := flag.String("config", env("DRMEMD_CONFIG", "/etc/drmemd.toml"), "path to the configuration file")
	checkOnly := flag.Bool("check", false, "validate the configuration file and exit")
	diagAddr := flag.String("diag-addr", env("DRMEMD_DIAG_ADDR", ":9797"), "diagnostics HTTP listen address")
	flag.Parse()

	fmt.Printf("drmemd %s\n", version)

	cfg, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *checkOnly {
		fmt.Printf("config %s: ok (%d driver(s), %d logic block(s))\n", *confPath, len(cfg.Drivers), len(cfg.Logics))
		return
	}

	log := logging.New(os.Stderr, cfg.LogLevel)

	backend, closeBackend, err := buildBackend(cfg)
	if err != nil {
		log.Fatalf("backend: %v", err)
	}
	defer closeBackend()

	registry := driver.NewRegistry()
	drivers.RegisterBuiltins(registry)
	registry.Freeze()

	rt := driver.NewRuntime(backend, registry, log)
	backend.SetSettingRouter(rt)

	for _, d := range cfg.Drivers {
		prefix, err := value.ParseName(d.Prefix)
		if err != nil {
			log.Warnf("driver %s: bad prefix, skipped: %v", d.Name, err)
			continue
		}
		if err := rt.AddInstance(driver.InstanceConfig{Factory: d.Name, Prefix: prefix, Cfg: d.Cfg}); err != nil {
			log.Warnf("driver %s: %v", d.Name, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Startup becomes "ready" only once every driver instance has had a
	// chance to register its devices (spec §4.3); the logic engine loads
	// right after, matching the data-flow order in spec §2.
	rt.Start(ctx)

	lat, lon, haveGeo := 0.0, 0.0, false
	if cfg.Latitude != nil && cfg.Longitude != nil {
		lat, lon, haveGeo = *cfg.Latitude, *cfg.Longitude, true
	}
	clk := clock.New(lat, lon, haveGeo)

	blocks := loadLogicBlocks(ctx, backend, cfg, log)

	var wg sync.WaitGroup
	for _, b := range blocks {
		wg.Add(1)
		go func(b *engine.Block) {
			defer wg.Done()
			if err := b.Run(ctx, backend, clk, log); err != nil {
				log.Warnf("logic block exited: %v", err)
			}
		}(b)
	}

	diagSrv := &http.Server{Addr: *diagAddr, Handler: diag.New(backend, rt).Handler()}
	go func() {
		log.Infof("diagnostics listening on %s", *diagAddr)
		if err := diagSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("diagnostics server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infof("shutting down")

	cancel() // stop driver instances and logic blocks

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = diagSrv.Shutdown(shutCtx)

	rt.Shutdown() // waits out the driver grace period (spec §5)
	wg.Wait()
}

// buildBackend picks the ephemeral or durable fabric implementation per the
// config's optional durable block (spec §6). Returns a no-op closer for
// the ephemeral case so callers can always `defer closeBackend()`.
func buildBackend(cfg *config.Config) (fabric.Backend, func() error, error) {
	if cfg.Durable == nil {
		return ephemeral.New(), func() error { return nil }, nil
	}
	b, err := durable.Open(cfg.Durable.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("open durable backend %s: %w", cfg.Durable.Addr, err)
	}
	return b, b.Close, nil
}

// loadLogicBlocks type-checks every configured logic section, enforces the
// single-writer-per-output invariant across all of them, and drops (with a
// logged diagnostic) any block that fails to load — a ParseError or
// TypeCheckError disables only the offending block (spec §7).
func loadLogicBlocks(ctx context.Context, backend fabric.Backend, cfg *config.Config, log *logging.Logger) []*engine.Block {
	var blocks []*engine.Block
	for _, lg := range cfg.Logics {
		b, err := engine.Load(ctx, backend, engine.Config{
			Label: lg.Label, Inputs: lg.Inputs, Outputs: lg.Outputs,
			Defs: lg.Defs, Exprs: lg.Exprs,
		})
		if err != nil {
			log.Warnf("logic %q: %v — block disabled for this run", lg.Label, err)
			continue
		}
		blocks = append(blocks, b)
	}
	if err := engine.CheckSingleWriter(blocks); err != nil {
		log.Fatalf("logic: %v", err)
	}
	return blocks
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
