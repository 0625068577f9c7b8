package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/txn-classifier/internal/core"
	"github.com/mikey/txn-classifier/internal/di"
	"github.com/mikey/txn-classifier/internal/ports"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	messageFeed ports.MessageFeed,
	completion core.CompletionClient,
	patternStore core.PatternStore,
) error {
	defer logger.Sync()

	// Start the feed
	if err := messageFeed.Start(); err != nil {
		logger.Fatal("Failed to start feed", zap.Error(err))
		return err
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	// Stop the feed
	if err := messageFeed.Stop(); err != nil {
		logger.Error("Failed to stop feed", zap.Error(err))
	}

	// Close any resources that need closing
	if closer, ok := completion.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close completion client", zap.Error(err))
		}
	}

	// Stop the store if needed
	if stopper, ok := patternStore.(interface{ Stop() }); ok {
		stopper.Stop()
	}

	logger.Info("Shutdown complete")
	return nil
}
