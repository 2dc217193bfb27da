package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jveski/hostsections/internal/collect"
	"github.com/jveski/hostsections/internal/concurrency"
	"github.com/jveski/hostsections/internal/errs"
	"github.com/jveski/hostsections/internal/hostconfig"
	"github.com/jveski/hostsections/internal/multihost"
	"github.com/jveski/hostsections/internal/rpc"
	"github.com/jveski/hostsections/internal/store"
)

func main() {
	var (
		configFile  = flag.String("config", "hosts.toml", "host configuration file")
		addr        = flag.String("addr", fmt.Sprintf(":%d", rpc.DefaultPort), "address on which to serve the API")
		metricsAddr = flag.String("metrics-addr", "", "(optional) address on which to serve prometheus metrics and pprof endpoints")
		stateDir    = flag.String("state-dir", ".", "directory holding the server certificate and the trusted client fingerprints")
		interval    = flag.Duration("interval", time.Minute, "how often to collect every host")
		parallelism = flag.Int("parallelism", 8, "number of hosts fetched at the same time")
		useOutdated = flag.Bool("use-outdated-persisted", false, "keep serving persisted sections after they expired")
		debug       = flag.Bool("debug", false, "abort a collection on the first failing source")
	)
	flag.Parse()

	zl, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal error while building logger: %s\n", err)
		os.Exit(1)
	}
	logger := zl.Sugar()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := hostconfig.Load(*configFile)
	if err != nil {
		logger.Fatalw("fatal error while loading host configuration", "error", err)
	}

	cert, fingerprint, err := rpc.GenCertificate(*stateDir)
	if err != nil {
		logger.Fatalw("fatal error while generating certificate", "error", err)
	}
	trusted, err := loadTrustedCerts(filepath.Join(*stateDir, "trustedcerts"))
	if err != nil {
		logger.Fatalw("fatal error while loading trusted client certificates", "error", err)
	}
	logger.Infow("loaded certificate", "fingerprint", fingerprint, "trustedClients", len(trusted))

	env := collect.NewEnv(cfg, store.Policy{MayUse: true}, logger)
	env.UseOutdatedPersisted = *useOutdated
	env.Debug = *debug

	collector := &collect.Collector{
		Config:      cfg,
		Env:         env,
		Registry:    multihost.NewRegistry(),
		Parallelism: *parallelism,
		Logger:      logger,
	}

	var (
		state   = &concurrency.StateContainer[*collect.Run]{}
		trigger = make(chan struct{}, 1)
	)
	go forwardSignal(ctx, syscall.SIGHUP, trigger)

	go concurrency.RunLoop(ctx, trigger, *interval, time.Minute*5, func(ctx context.Context) bool {
		return collectOnce(ctx, collector, state, logger)
	})

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.Handle("/debug/pprof/", http.DefaultServeMux) // registered by the pprof import

			err := http.ListenAndServe(*metricsAddr, rpc.WithLogging(logger, mux))
			if err != nil {
				logger.Fatalw("fatal error while running metrics HTTP server", "error", err)
			}
		}()
	}

	svr := rpc.NewServer(*addr, cert, rpc.WithLogging(logger, newApiHandler(trusted, state, trigger)))
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), time.Second*10)
		defer done()
		svr.Shutdown(shutdownCtx)
	}()

	logger.Infow("serving API", "addr", *addr)
	if err := svr.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalw("fatal error while running API HTTP server", "error", err)
	}
}

// collectOnce runs a collection of every host and publishes the result.
func collectOnce(ctx context.Context, collector *collect.Collector, state *concurrency.StateContainer[*collect.Run], logger *zap.SugaredLogger) bool {
	run, err := collector.Run(ctx, nil)
	if errs.IsTerminate(err) {
		return true // shutting down
	}
	if err != nil {
		logger.Errorw("error collecting hosts", "error", err)
		return false
	}

	state.Swap(run)
	return true
}

func forwardSignal(ctx context.Context, sig os.Signal, trigger chan<- struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			select {
			case trigger <- struct{}{}:
			default:
			}
		}
	}
}

// loadTrustedCerts reads one client certificate fingerprint per line. A missing
// file trusts nobody.
func loadTrustedCerts(file string) (rpc.StaticAuthorizer, error) {
	buf, err := os.ReadFile(file)
	if os.IsNotExist(err) {
		return rpc.NewStaticAuthorizer(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading trusted certs file: %w", err)
	}

	list := []string{}
	scanner := bufio.NewScanner(bytes.NewBuffer(buf))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		list = append(list, line)
	}
	return rpc.NewStaticAuthorizer(list...), scanner.Err()
}
