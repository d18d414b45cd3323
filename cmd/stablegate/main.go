// Command stablegate is a small demonstration CLI that wires the library's
// components together: it loads a config file, builds a single-phase
// workflow calling one healthcheck upstream through the gateway batcher, and
// prints the phase result.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/wudi/stablegate/internal/backpressure"
	"github.com/wudi/stablegate/internal/buffer"
	"github.com/wudi/stablegate/internal/cache"
	"github.com/wudi/stablegate/internal/circuitbreaker"
	"github.com/wudi/stablegate/internal/concurrency"
	"github.com/wudi/stablegate/internal/config"
	"github.com/wudi/stablegate/internal/gateway"
	"github.com/wudi/stablegate/internal/logging"
	"github.com/wudi/stablegate/internal/metrics"
	"github.com/wudi/stablegate/internal/phase"
	"github.com/wudi/stablegate/internal/ratelimiter"
	"github.com/wudi/stablegate/internal/retry"
	"github.com/wudi/stablegate/internal/stablereq"
	"github.com/wudi/stablegate/internal/tracing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	version = "dev"
)

func main() {
	configPath := flag.String("config", "configs/stablegate.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("stablegate %s\n", version)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger, closer, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(zapLogger)
	if closer != nil {
		defer closer.Close()
	}
	defer logging.Sync()

	tracer, err := tracing.New(cfg.Tracing)
	if err != nil {
		logging.Warn("tracing setup failed, continuing without it", zap.Error(err))
	} else {
		defer tracer.Close()
	}

	reg := metrics.New()
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg.Registerer(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("metrics server stopped", zap.Error(err))
			}
		}()
		logging.Info("metrics exposition listening", zap.String("addr", cfg.Metrics.Addr))
	}

	breaker := circuitbreaker.New(cfg.CircuitBreaker)
	limiter := ratelimiter.New(cfg.RateLimit)
	concurrencyLimiter := concurrency.New(cfg.Concurrency)
	respCache := cache.New(cfg.Cache)
	buf := buffer.New(5 * time.Second)

	// The healthcheck item below belongs to the "healthcheck" request group,
	// which gets its own breaker/limiter/backpressure instances instead of
	// sharing the gateway-wide ones: backpressure's onTrip callback forces
	// that group's breaker open for the server-advertised Retry-After delay
	// rather than waiting for its failure-percentage counters to trip it.
	groupBreakers := circuitbreaker.NewByRoute()
	groupBreaker := groupBreakers.AddRoute("healthcheck", cfg.CircuitBreaker)
	groupLimiters := ratelimiter.NewByRoute()
	groupLimiters.AddRoute("healthcheck", cfg.RateLimit)
	groupBackpressures := backpressure.NewByRoute()
	groupBackpressures.AddRoute("healthcheck", backpressure.Config{}, groupBreaker.ForceOpenFor, nil)

	gatewayOpts := gateway.Options{
		ConcurrentExecution: true,
		CircuitBreaker:      breaker,
		RateLimiter:         limiter,
		Concurrency:         concurrencyLimiter,
		Cache:               respCache,
		CircuitBreakers:     groupBreakers,
		RateLimiters:        groupLimiters,
		Backpressures:       groupBackpressures,
		Default: gateway.RequestOptions{
			Attempts:      intPtr(cfg.Retry.Attempts),
			RetryStrategy: strategyPtr(retry.Strategy(cfg.Retry.RetryStrategy)),
			Wait:          int64Ptr(int64(cfg.Retry.Wait / time.Millisecond)),
			Jitter:        float64Ptr(cfg.Retry.Jitter),
		},
	}

	items := []gateway.GatewayItem{
		{
			Type: gateway.ItemRequest,
			Request: &gateway.GatewayRequest{
				ID:      "healthcheck",
				GroupID: "healthcheck",
				Request: stablereq.Request{
					Hostname: "example.com",
					Protocol: "https",
					Method:   "GET",
					Path:     "/",
					Timeout:  5 * time.Second,
				},
			},
		},
	}

	result, err := phase.Execute(context.Background(), phase.Spec{
		ID:           "startup-check",
		Items:        items,
		MaxTimeout:   10 * time.Second,
		SharedBuffer: buf,
	}, gatewayOpts)
	if err != nil {
		logging.Error("phase failed", zap.Error(err))
	}

	for _, r := range result.Responses {
		reg.RecordRequest(r.RequestID, outcomeLabel(r.Success), 0)
	}

	fmt.Printf("phase %s: %d succeeded, %d failed, timed out=%v\n", result.PhaseID, result.Succeeded, result.Failed, result.TimedOut)
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func intPtr(v int) *int             { return &v }
func int64Ptr(v int64) *int64       { return &v }
func float64Ptr(v float64) *float64 { return &v }
func strategyPtr(v retry.Strategy) *retry.Strategy { return &v }
