package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chainmail/go-backend/internal/composition/daemonserver"
	"chainmail/go-backend/internal/config"
	"chainmail/go-backend/internal/doctor"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load()

	showVersion := flag.Bool("version", false, "print version and exit")
	rpcAddr := flag.String("rpc-addr", "", "JSON-RPC listen address (default from config)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-Chainmail-RPC-Token (optional)")
	runDoctor := flag.Bool("doctor", false, "run environment preflight checks and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("chainmail-daemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *rpcToken != "" {
		_ = os.Setenv("CHAINMAIL_RPC_TOKEN", *rpcToken)
	}

	cfg := config.LoadFromPath(*configPath)
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	addr := *rpcAddr
	if addr == "" {
		addr = cfg.RPC.Addr
	}

	if *runDoctor {
		doctorCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		report := doctor.Run(doctorCtx, doctor.Input{Config: cfg, DataDir: cfg.DataDir, RPCAddr: addr})
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("chainmail-daemon doctor: %v", err)
		}
		fmt.Println(string(out))
		if !report.Ready {
			os.Exit(1)
		}
		return
	}

	srv, err := daemonserver.NewRPCServerWithOptions(addr, *configPath, *dataDir)
	if err != nil {
		log.Fatalf("chainmail-daemon failed to initialize: %v", err)
	}

	log.Println("chainmail-daemon starting")
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("chainmail-daemon failed: %v", err)
	}
	log.Println("chainmail-daemon stopped")
}
