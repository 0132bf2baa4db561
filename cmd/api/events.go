package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ortsistemas48/svt-backend/internal/mq"
)

var (
	watchBinding string
	watchQueue   string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the domain event stream",
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Log domain events as they are published",
	Example: "  svt events watch --binding 'sticker.*'",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.RabbitMQ.URL == "" {
			return errors.New("rabbitmq.url is not configured")
		}

		consumer, err := mq.NewRabbitConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, watchQueue, watchBinding)
		if err != nil {
			return err
		}
		defer consumer.Close()

		err = consumer.Consume(func(msg amqp091.Delivery) {
			var payload map[string]any
			if err := json.Unmarshal(msg.Body, &payload); err != nil {
				log.WithError(err).WithField("routing_key", msg.RoutingKey).Warn("undecodable event")
				_ = msg.Nack(false, false)
				return
			}
			log.WithFields(logrus.Fields{
				"routing_key": msg.RoutingKey,
				"payload":     payload,
			}).Info("event")
			_ = msg.Ack(false)
		})
		if err != nil {
			return err
		}

		log.Infof("watching %s on exchange %s", watchBinding, cfg.RabbitMQ.Exchange)
		<-ctx.Done()
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchBinding, "binding", "#", "routing key pattern to bind")
	watchCmd.Flags().StringVar(&watchQueue, "queue", "", "durable queue name; empty for a temporary queue")
	eventsCmd.AddCommand(watchCmd)
}
