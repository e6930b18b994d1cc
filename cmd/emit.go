package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/kafka"
	"github.com/jmehdipour/webhook-gateway/internal/model"
)

var (
	emitEntity string
	emitActor  string
	emitData   string
)

// emitCmd publishes one business event envelope, for exercising subscriber
// endpoints without going through the platform.
var emitCmd = &cobra.Command{
	Use:   "emit <event-type>",
	Short: "Publish a test business event to the events topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		env := model.Envelope{
			EventType: args[0],
			Timestamp: time.Now().UTC(),
			EntityID:  emitEntity,
			Actor:     emitActor,
		}
		if emitData != "" {
			if err := json.Unmarshal([]byte(emitData), &env.Data); err != nil {
				return fmt.Errorf("--data must be a JSON object: %w", err)
			}
		}

		p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer p.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if err := p.PublishJSON(ctx, env.EntityID, env); err != nil {
			return fmt.Errorf("publish: %w", err)
		}

		fmt.Printf(">> published %s to %s\n", env.EventType, cfg.Kafka.Topic)
		return nil
	},
}

func init() {
	emitCmd.Flags().StringVar(&emitEntity, "entity", "", "entity id (also the partition key)")
	emitCmd.Flags().StringVar(&emitActor, "actor", "cli", "actor recorded on the event")
	emitCmd.Flags().StringVar(&emitData, "data", "", "event data as a JSON object")
}
