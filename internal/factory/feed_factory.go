package factory

import (
	"fmt"
	"os"

	"github.com/mikey/txn-classifier/internal/adapters/feed"
	"github.com/mikey/txn-classifier/internal/config"
	"github.com/mikey/txn-classifier/internal/core"
	"github.com/mikey/txn-classifier/internal/ports"
	"go.uber.org/zap"
)

// FeedFactory creates message feeds based on configuration
type FeedFactory struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *core.Pipeline
}

// NewFeedFactory creates a new feed factory
func NewFeedFactory(cfg *config.Config, logger *zap.Logger, pipeline *core.Pipeline) *FeedFactory {
	return &FeedFactory{
		cfg:      cfg,
		logger:   logger,
		pipeline: pipeline,
	}
}

// CreateMessageFeed creates a message feed based on the configuration
func (f *FeedFactory) CreateMessageFeed() (ports.MessageFeed, error) {
	feedType := f.cfg.GetString("feed.type")

	switch feedType {
	case "http":
		return feed.NewHttpFeed(
			f.pipeline,
			f.logger,
			f.cfg.GetString("feed.listen_address"),
			f.cfg.GetInt("feed.max_batch"),
		), nil
	case "cli":
		return feed.NewCliFeed(
			f.pipeline,
			f.logger,
			os.Stdin,
			os.Stdout,
			f.cfg.GetInt("feed.batch_size"),
		)
	default:
		return nil, fmt.Errorf("unsupported feed type: %s", feedType)
	}
}
