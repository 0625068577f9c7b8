package ports

// MessageFeed defines the interface for inbound message sources
type MessageFeed interface {
	// Start starts consuming messages and running them through the pipeline
	Start() error

	// Stop stops the feed
	Stop() error
}
