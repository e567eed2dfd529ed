// Package dispatch delivers per-endpoint ingestion tasks. Two strategies
// exist: publishing to the task topic for the consumer loop, or posting
// directly to the task endpoint over HTTP.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/arturp39/factcheck-collector/internal/domain"
	"github.com/arturp39/factcheck-collector/pkg/config"
	"github.com/arturp39/factcheck-collector/pkg/kafka"
	"github.com/arturp39/factcheck-collector/pkg/logger"
)

// TaskPublisher delivers one endpoint task for asynchronous processing.
type TaskPublisher interface {
	Publish(ctx context.Context, task domain.TaskRequest) error
}

// KafkaPublisher publishes tasks to the ingestion topic, keyed by endpoint id
// so one endpoint's tasks stay ordered.
type KafkaPublisher struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewKafkaPublisher creates a queue-backed task publisher.
func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		logger:   logger.WithComponent("task-publisher-kafka"),
	}
}

// Publish writes the task to the topic.
func (p *KafkaPublisher) Publish(ctx context.Context, task domain.TaskRequest) error {
	err := p.producer.Publish(ctx, kafka.Event{
		Key:   strconv.FormatInt(task.EndpointID, 10),
		Value: task,
	})
	if err != nil {
		return fmt.Errorf("publishing task run=%d endpoint=%d: %w", task.RunID, task.EndpointID, err)
	}
	p.logger.Debug("task published", "run_id", task.RunID, "endpoint_id", task.EndpointID)
	return nil
}

// HTTPPublisher posts tasks synchronously to the task endpoint. Used for
// single-instance deployments without a broker.
type HTTPPublisher struct {
	cfg    config.DispatchConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPPublisher creates a direct-call task publisher.
func NewHTTPPublisher(cfg config.DispatchConfig) *HTTPPublisher {
	return &HTTPPublisher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.WithComponent("task-publisher-http"),
	}
}

// Publish posts the task as JSON. Any non-2xx response fails the publish.
func (p *HTTPPublisher) Publish(ctx context.Context, task domain.TaskRequest) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TargetURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if task.CorrelationID != "" {
		req.Header.Set("X-Correlation-Id", task.CorrelationID)
	}
	if p.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.AuthToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting task run=%d endpoint=%d: %w", task.RunID, task.EndpointID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("task endpoint returned %d for run=%d endpoint=%d", resp.StatusCode, task.RunID, task.EndpointID)
	}
	p.logger.Debug("task posted", "run_id", task.RunID, "endpoint_id", task.EndpointID)
	return nil
}
