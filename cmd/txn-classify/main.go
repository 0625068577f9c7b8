package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mikey/txn-classifier/internal/adapters/feed"
	"github.com/mikey/txn-classifier/internal/core"
	"github.com/mikey/txn-classifier/internal/di"
	"go.uber.org/zap"
)

func main() {
	flags := di.ParseFlags()

	// Build the dependency injection container from flags
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the one-shot classification
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run reads messages from the configured input, classifies them and prints
// one decision per line
func run(
	logger *zap.Logger,
	cliFeed *feed.CliFeed,
	completion core.CompletionClient,
) error {
	defer logger.Sync()

	if err := cliFeed.Run(context.Background()); err != nil {
		logger.Error("Classification run failed", zap.Error(err))
		return err
	}

	// Close any resources that need closing
	if closer, ok := completion.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close completion client", zap.Error(err))
		}
	}

	return nil
}
