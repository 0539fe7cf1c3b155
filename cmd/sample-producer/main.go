package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sampleflow/internal/broker"
	"sampleflow/internal/config"
	"sampleflow/internal/logger"
	"sampleflow/pkg/logging"
	"sampleflow/pkg/models"
)

var (
	configFile string
	inputFile  string
	topic      string
	source     string
	maxRows    int
	interval   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sample-producer",
		Short: "Publish lab sample files to the ingest topic",
		Long:  "Sample producer reads a CSV export of lab samples and publishes one envelope per row",
		RunE:  publishCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")
	rootCmd.PersistentFlags().StringVar(&inputFile, "file", "", "Path to CSV file (required)")
	rootCmd.PersistentFlags().StringVar(&topic, "topic", "", "Target topic (defaults to the configured input topic)")
	rootCmd.PersistentFlags().StringVar(&source, "source", "", "Source system name stamped on every envelope")
	rootCmd.PersistentFlags().IntVar(&maxRows, "max-rows", 0, "Stop after this many rows (0 means all)")
	rootCmd.PersistentFlags().DurationVar(&interval, "interval", 0, "Pause between publishes")

	rootCmd.AddCommand(publishCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish the file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			if configFile == "" || inputFile == "" {
				earlyLog.Error("Both --config and --file are required")
				return fmt.Errorf("config and file are required")
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if topic == "" {
				topic = cfg.Broker.Kafka.InputTopic
			}

			producer, err := broker.NewProducer(cfg.Broker, log)
			if err != nil {
				return fmt.Errorf("failed to create producer: %w", err)
			}
			defer producer.Close()

			published, err := publishFile(ctx, producer, log)
			if err != nil {
				log.ErrorwCtx(ctx, "Publish aborted", "published", published, "error", err)
				return err
			}

			log.InfowCtx(ctx, "Publish complete", "published", published, "topic", topic)
			return nil
		},
	}
}

func publishFile(ctx context.Context, producer broker.Producer, log logger.Logger) (int, error) {
	f, err := os.Open(inputFile)
	if err != nil {
		return 0, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	published := 0
	for {
		if maxRows > 0 && published >= maxRows {
			break
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return published, fmt.Errorf("failed to read CSV row: %w", err)
		}

		env, err := buildEnvelope(header, row)
		if err != nil {
			log.Warnw("Skipping malformed row", "row", published+1, "error", err)
			continue
		}

		body, err := json.Marshal(env)
		if err != nil {
			return published, fmt.Errorf("failed to marshal envelope: %w", err)
		}

		if err := producer.Publish(ctx, topic, []byte(env.SampleID), body); err != nil {
			return published, fmt.Errorf("failed to publish row: %w", err)
		}
		published++

		if interval > 0 {
			select {
			case <-ctx.Done():
				return published, ctx.Err()
			case <-time.After(interval):
			}
		}
	}

	return published, nil
}

func buildEnvelope(header, row []string) (models.MessageEnvelope, error) {
	payload := make(map[string]interface{}, len(header))
	for i, col := range header {
		if i >= len(row) {
			break
		}
		value := strings.TrimSpace(row[i])
		if value == "" {
			continue
		}
		payload[col] = value
	}

	sampleID, _ := payload["sample_id"].(string)
	if sampleID == "" {
		return models.MessageEnvelope{}, fmt.Errorf("row has no sample_id")
	}

	return models.MessageEnvelope{
		ID:        uuid.NewString(),
		SampleID:  sampleID,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}, nil
}
