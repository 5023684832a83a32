// Command rpcping is a small diagnostic tool built on the RPC engine. It runs
// in two modes: "serve" starts an echo server, "ping" connects to one and
// round-trips a message through the ECHO procedure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/internal/protocol/rpc"
	"github.com/marmos91/dittorpc/internal/server"
	"github.com/marmos91/dittorpc/pkg/config"
	"github.com/marmos91/dittorpc/pkg/metrics"
)

// Echo program identity. The program number sits in the transient range
// reserved for dynamically assigned programs.
const (
	echoProgram = 0x20005000
	echoVersion = 1

	procNull = 0
	procEcho = 1
)

type echoArgs struct {
	Message string
}

type echoResult struct {
	Message string
}

// echoDispatcher answers the echo program and nothing else.
type echoDispatcher struct{}

func (echoDispatcher) Dispatch(call *rpc.ServerCall) {
	if call.Program() != echoProgram {
		call.FailProgramUnavailable()
		return
	}
	if call.Version() != echoVersion {
		call.FailProgramMismatch(echoVersion, echoVersion)
		return
	}

	switch call.Procedure() {
	case procNull:
		if err := call.RetrieveArguments(rpc.Void{}); err != nil {
			call.FailGarbageArgs()
			return
		}
		call.Reply(rpc.Void{})

	case procEcho:
		var args echoArgs
		if err := call.RetrieveArguments(rpc.Struct{V: &args}); err != nil {
			call.FailGarbageArgs()
			return
		}
		logger.Debug("Echoing %q for xid 0x%x", args.Message, call.XID())
		call.Reply(rpc.Struct{V: &echoResult{Message: args.Message}})

	default:
		call.FailProcedureUnavailable()
	}
}

func main() {
	mode := flag.String("mode", "serve", "Run mode: serve or ping")
	configPath := flag.String("config", "", "Path to config file (default: XDG config dir)")
	addr := flag.String("addr", "", "Address override (listen address in serve mode, target in ping mode)")
	message := flag.String("message", "hello", "Message to echo in ping mode")
	dumpConfig := flag.Bool("dump-config", false, "Print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := setupLogOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to set up log output: %v", err)
	}

	if *dumpConfig {
		out, err := cfg.Dump()
		if err != nil {
			log.Fatalf("Failed to dump configuration: %v", err)
		}
		fmt.Print(string(out))
		return
	}

	switch *mode {
	case "serve":
		runServer(cfg, *addr)
	case "ping":
		runPing(cfg, *addr, *message)
	default:
		log.Fatalf("Unknown mode %q (want serve or ping)", *mode)
	}
}

func setupLogOutput(output string) error {
	switch output {
	case "stdout", "":
		return nil
	case "stderr":
		logger.SetOutput(os.Stderr)
		return nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", output, err)
		}
		logger.SetOutput(f)
		return nil
	}
}

func runServer(cfg *config.Config, addrOverride string) {
	listenAddr := cfg.Server.ListenAddress
	if addrOverride != "" {
		listenAddr = addrOverride
	}

	var m metrics.RPCMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		m = metrics.NewRPCMetrics()

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
			logger.Info("Metrics endpoint on %s/metrics", cfg.Metrics.ListenAddress)
			if err := http.ListenAndServe(cfg.Metrics.ListenAddress, mux); err != nil {
				logger.Error("Metrics endpoint error: %v", err)
			}
		}()
	}

	srv := server.New(listenAddr, cfg.Server.MaxMessageSize, echoDispatcher{}, m)
	if cfg.Server.RateLimit > 0 {
		srv.SetRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst)
		logger.Info("Rate limit: %d calls/s (burst %d)", cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Echo server running on %s. Press Ctrl+C to stop.", listenAddr)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping...")
		cancel()

		shutdownTimer := time.NewTimer(cfg.Server.ShutdownTimeout)
		defer shutdownTimer.Stop()
		select {
		case err := <-serverDone:
			if err != nil {
				logger.Error("Server shutdown error: %v", err)
				os.Exit(1)
			}
			logger.Info("Server stopped gracefully")
		case <-shutdownTimer.C:
			logger.Error("Shutdown timed out after %v", cfg.Server.ShutdownTimeout)
			os.Exit(1)
		}

	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}

func runPing(cfg *config.Config, addrOverride, message string) {
	target := cfg.Server.ListenAddress
	if addrOverride != "" {
		target = addrOverride
	}

	cred, err := config.BuildClientAuth(&cfg.Auth)
	if err != nil {
		log.Fatalf("Failed to build client credential: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.CallTimeout)
	defer cancel()

	conn, err := server.Dial(ctx, target, cfg.Server.MaxMessageSize)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", target, err)
	}
	defer conn.Close()

	client := rpc.NewClient(echoProgram, echoVersion, cred, nil, conn)

	start := time.Now()
	var result echoResult
	err = client.Call(ctx, procEcho, rpc.Struct{V: &echoArgs{Message: message}}, rpc.Struct{V: &result}, cfg.Client.CallTimeout)
	if err != nil {
		log.Fatalf("Call failed: %v", err)
	}

	fmt.Printf("reply from %s: %q (%v)\n", target, result.Message, time.Since(start))
}
