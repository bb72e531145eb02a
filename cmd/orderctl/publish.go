package main

import (
	"errors"
	"fmt"
	"time"

	"order-payment-service/config"
	"order-payment-service/internal/broker"
	"order-payment-service/internal/models"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// publishCmd injects events normally produced by the user and catalog
// services, for replaying a missed event or exercising the fan-out.
func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an account or catalog event to the order topic",
	}
	cmd.AddCommand(userDeactivatedCmd(), categoryChangedCmd())
	return cmd
}

func kafkaPublisher() (*broker.EventPublisher, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil, errors.New("KAFKA_BROKERS is not set")
	}
	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	return broker.NewEventPublisher(producer), producer.Close, nil
}

func baseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func userDeactivatedCmd() *cobra.Command {
	var (
		userID int64
		reason string
	)

	cmd := &cobra.Command{
		Use:   "user-deactivated",
		Short: "Disconnect a user's live sessions and notify them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be positive")
			}
			publisher, closeFn, err := kafkaPublisher()
			if err != nil {
				return err
			}
			defer closeFn()

			ev := &models.UserDeactivatedEvent{
				BaseEvent: baseEvent(models.EventTypeUserDeactivated),
				UserID:    userID,
				Reason:    reason,
			}
			if err := publisher.PublishUserDeactivated(cmd.Context(), ev); err != nil {
				return err
			}
			cmd.Printf("published %s\n", ev.EventID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "deactivated user id")
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to the user")
	return cmd
}

func categoryChangedCmd() *cobra.Command {
	var (
		categoryID int64
		name       string
		action     string
	)

	cmd := &cobra.Command{
		Use:   "category",
		Short: "Broadcast a category change to every connected client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch action {
			case models.CategoryCreated, models.CategoryUpdated, models.CategoryDeleted:
			default:
				return fmt.Errorf("--action must be one of created, updated, deleted")
			}
			if categoryID <= 0 {
				return fmt.Errorf("--id must be positive")
			}
			publisher, closeFn, err := kafkaPublisher()
			if err != nil {
				return err
			}
			defer closeFn()

			ev := &models.CategoryChangedEvent{
				BaseEvent:  baseEvent(models.EventTypeCategoryChanged),
				CategoryID: categoryID,
				Name:       name,
				Action:     action,
			}
			if err := publisher.PublishCategoryChanged(cmd.Context(), ev); err != nil {
				return err
			}
			cmd.Printf("published %s\n", ev.EventID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&categoryID, "id", 0, "category id")
	cmd.Flags().StringVar(&name, "name", "", "category name")
	cmd.Flags().StringVar(&action, "action", models.CategoryUpdated, "created, updated or deleted")
	return cmd
}
