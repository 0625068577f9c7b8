package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mikey/txn-classifier/internal/core"
	"go.uber.org/zap"
)

// feedMessage is the JSONL wire form of an inbound message.
type feedMessage struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Sender      string `json:"sender"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// feedDecision is the JSONL wire form of an emitted decision.
type feedDecision struct {
	MessageID  string  `json:"message_id"`
	IsPayment  bool    `json:"is_payment"`
	Tier       int     `json:"tier"`
	Confidence float64 `json:"confidence"`
	Amount     int64   `json:"amount,omitempty"`
	Store      string  `json:"store,omitempty"`
	Card       string  `json:"card,omitempty"`
	Category   string  `json:"category,omitempty"`
	DateTime   string  `json:"date_time,omitempty"`
}

// CliFeed reads messages as JSON lines, runs them through the pipeline in
// batches and writes one decision line per message
type CliFeed struct {
	pipeline  *core.Pipeline
	logger    *zap.Logger
	in        io.Reader
	out       io.Writer
	batchSize int
}

// NewCliFeed creates a new CLI feed
func NewCliFeed(pipeline *core.Pipeline, logger *zap.Logger, in io.Reader, out io.Writer, batchSize int) (*CliFeed, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &CliFeed{
		pipeline:  pipeline,
		logger:    logger,
		in:        in,
		out:       out,
		batchSize: batchSize,
	}, nil
}

// Run consumes the input until EOF and emits decisions for every message.
func (f *CliFeed) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(f.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	writer := bufio.NewWriter(f.out)
	defer writer.Flush()

	var batch []core.Message
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var wire feedMessage
		if err := json.Unmarshal(line, &wire); err != nil {
			f.logger.Warn("Skipping malformed input line",
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}
		if wire.ID == "" {
			wire.ID = fmt.Sprintf("line-%d", lineNo)
		}
		if wire.TimestampMs == 0 {
			wire.TimestampMs = time.Now().UnixMilli()
		}

		batch = append(batch, core.Message{
			ID:          wire.ID,
			RawText:     wire.Text,
			Sender:      wire.Sender,
			TimestampMs: wire.TimestampMs,
		})

		if len(batch) >= f.batchSize {
			if err := f.flush(ctx, writer, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	if len(batch) > 0 {
		if err := f.flush(ctx, writer, batch); err != nil {
			return err
		}
	}
	return nil
}

func (f *CliFeed) flush(ctx context.Context, writer *bufio.Writer, batch []core.Message) error {
	startTime := time.Now()
	decisions := f.pipeline.Process(ctx, batch)
	f.logger.Debug("Processed batch",
		zap.Int("message_count", len(batch)),
		zap.Duration("elapsed", time.Since(startTime)))

	encoder := json.NewEncoder(writer)
	for _, d := range decisions {
		wire := feedDecision{
			MessageID:  d.MessageID,
			IsPayment:  d.IsPayment,
			Tier:       d.Tier,
			Confidence: d.Confidence,
		}
		if d.Result != nil {
			wire.Amount = d.Result.Amount
			wire.Store = d.Result.Store
			wire.Card = d.Result.Card
			wire.Category = d.Result.Category
			if !d.Result.DateTime.IsZero() {
				wire.DateTime = d.Result.DateTime.Format(time.RFC3339)
			}
		}
		if err := encoder.Encode(wire); err != nil {
			return fmt.Errorf("failed to write decision: %w", err)
		}
	}
	return writer.Flush()
}

// Start is a no-op for the CLI feed
func (f *CliFeed) Start() error {
	return nil
}

// Stop is a no-op for the CLI feed
func (f *CliFeed) Stop() error {
	return nil
}
