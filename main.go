package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"validator-engine/apiconfig"
	"validator-engine/chainepoch"
	"validator-engine/coordination"
	"validator-engine/internal/dispatch"
	"validator-engine/internal/engine"
	"validator-engine/internal/publisher"
	"validator-engine/internal/server"
	"validator-engine/internal/statestore"
	"validator-engine/ledger"
	"validator-engine/logging"
	"validator-engine/sandbox"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "status" {
		logging.WithNoopLogger(func() (interface{}, error) {
			config, err := apiconfig.LoadDefaultConfigManager()
			if err != nil {
				log.Fatalf("Error loading config: %v", err)
			}
			returnStatus(config)
			return nil, nil
		})
		return
	}

	config, err := apiconfig.LoadDefaultConfigManager()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	store, err := statestore.NewStore(config.GetStateConfig().Dir)
	if err != nil {
		logging.Error("Failed to open state store", logging.System, "error", err)
		os.Exit(1)
	}

	validatorId := config.GetLedgerConfig().ValidatorId
	ledgerClient := ledger.NewHttpClient(config.GetLedgerConfig())
	coordClient := coordination.NewClient(config.GetCoordinationConfig(), validatorId)
	sandboxClient := sandbox.NewFromConfig(config.GetSandboxConfig())

	planner := chainepoch.NewWindowPlanner(ledgerClient, config.GetSchedulerConfig().FinalizationBufferBlocks)
	dispatcher := dispatch.NewDispatcher(sandboxClient, config.GetSandboxConfig())
	pub := publisher.NewPublisher(ledgerClient, store, config.GetLedgerConfig())

	var blockStream ledger.BlockStreamer
	if config.GetLedgerConfig().WebsocketUrl != "" {
		blockStream = ledger.NewBlockStream(config.GetLedgerConfig())
	}

	eng, err := engine.NewEngine(
		planner,
		coordClient,
		dispatcher,
		pub,
		store,
		blockStream,
		config.GetScoringConfig(),
		config.GetSchedulerConfig(),
	)
	if err != nil {
		logging.Error("Failed to initialize engine", logging.System, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	adminServer := server.New(eng, config.GetApiConfig())
	go func() {
		if err := adminServer.Start(); err != nil {
			logging.Warn("Admin server stopped", logging.Server, "error", err)
		}
	}()

	logging.Info("Validator engine starting", logging.System,
		"validator", validatorId,
		"tickInterval", config.GetSchedulerConfig().TickInterval.String())

	err = eng.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if shutdownErr := adminServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logging.Warn("Admin server shutdown failed", logging.Server, "error", shutdownErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("Engine halted", logging.System, "error", err)
		os.Exit(1)
	}
	logging.Info("Validator engine stopped", logging.System)
}

func returnStatus(config *apiconfig.ConfigManager) {
	store, err := statestore.NewStore(config.GetStateConfig().Dir)
	if err != nil {
		log.Fatalf("Error opening state store: %v", err)
	}
	state, err := store.Load()
	if err != nil {
		log.Fatalf("Error loading state: %v", err)
	}
	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Fatalf("Error marshalling state: %v", err)
	}
	fmt.Println(string(out))
}
