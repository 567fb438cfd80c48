// Package sns implements the EventSink interface using AWS SNS.
//
// This adapter publishes checkpoint events to an SNS topic, where downstream
// consumers can subscribe to be notified when a new timestamp is recorded in
// the oracle contract. Events are serialized as JSON messages.
//
// Message Attributes:
//   - chainId: The chain ID as a string
//   - blockNumber: The checkpoint block number as a string
//   - txHash: The confirmed transaction hash
//
// For testing, use the memory.EventSink adapter instead.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/beaconops/oracle-updater/internal/pkg/retry"
	"github.com/beaconops/oracle-updater/internal/ports/outbound"
)

// Compile-time check that EventSink implements outbound.EventSink
var _ outbound.EventSink = (*EventSink)(nil)

// SNSPublisher defines the subset of SNS client methods used by EventSink.
// This interface allows for easy mocking in tests.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS event sink.
type Config struct {
	// TopicARN is the ARN of the SNS topic to publish checkpoint events to.
	TopicARN string

	// Retry configures backoff for transient publish failures.
	Retry retry.Config

	// Logger is the structured logger for the sink.
	Logger *slog.Logger
}

// EventSink publishes checkpoint events to an SNS topic.
type EventSink struct {
	client SNSPublisher
	config Config
	logger *slog.Logger
}

// NewEventSink creates a new SNS event sink.
func NewEventSink(client SNSPublisher, config Config) (*EventSink, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = retry.DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &EventSink{
		client: client,
		config: config,
		logger: config.Logger.With("component", "sns-eventsink"),
	}, nil
}

// NewEventSinkFromConfig creates a new SNS event sink from an AWS config.
func NewEventSinkFromConfig(awsConfig aws.Config, config Config) (*EventSink, error) {
	return NewEventSink(sns.NewFromConfig(awsConfig), config)
}

// Publish publishes a checkpoint event, retrying transient failures.
func (s *EventSink) Publish(ctx context.Context, event outbound.CheckpointEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling checkpoint event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.config.TopicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"chainId": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatUint(event.ChainID, 10)),
			},
			"blockNumber": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatUint(event.BlockNumber, 10)),
			},
			"txHash": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.TxHash),
			},
		},
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("retrying SNS publish",
			"attempt", attempt,
			"backoff", backoff,
			"block", event.BlockNumber,
			"error", err)
	}

	isRetryable := func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}

	err = retry.DoVoid(ctx, s.config.Retry, isRetryable, onRetry, func() error {
		_, err := s.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("publishing checkpoint event for block %d: %w", event.BlockNumber, err)
	}

	s.logger.Debug("published checkpoint event",
		"block", event.BlockNumber,
		"txHash", event.TxHash)
	return nil
}

// Close releases sink resources. The SNS client holds no connection state.
func (s *EventSink) Close() error {
	return nil
}
