package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"order-payment-service/config"
	"order-payment-service/internal/auth"
	"order-payment-service/internal/broker"
	"order-payment-service/internal/gateway"
	"order-payment-service/internal/service"
	"order-payment-service/internal/worker"

	"github.com/spf13/cobra"
)

func expirePaymentsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "expire-payments",
		Short: "Fail pending wallet payments whose session has expired",
		Long: `Fail pending wallet payments whose session TTL has passed.

Events for the expired attempts are written to the outbox. A running server
relays them, or run relay-outbox to publish them now.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()

			payments := service.NewPaymentService(db, nil)
			orders := service.NewOrderService(db, service.NewInventoryClient(db, nil), payments,
				nil, nil, service.OrderOptions{})
			reconciler := service.NewReconciler(orders, db, nil)

			expired, err := reconciler.ExpireStalePayments(cmd.Context(), limit)
			if err != nil {
				return err
			}
			cmd.Printf("expired %d payment(s)\n", expired)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum number of payments to expire")
	return cmd
}

func relayOutboxCmd() *cobra.Command {
	var batch int

	cmd := &cobra.Command{
		Use:   "relay-outbox",
		Short: "Publish pending outbox events to Kafka",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := connect()
			if err != nil {
				return err
			}
			defer db.Close()
			if len(cfg.Kafka.Brokers) == 0 {
				return errors.New("KAFKA_BROKERS is not set")
			}

			producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
			defer producer.Close()

			sent, err := worker.NewOutboxRelay(db, producer, 0, batch).RelayPending(cmd.Context())
			cmd.Printf("relayed %d event(s)\n", sent)
			return err
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 100, "rows published per transaction")
	return cmd
}

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign key=value...",
		Short: "Sign a parameter set with the wallet secret",
		Long: `Print the signature the wallet provider would attach to the given
parameters. The merchant access key is included when not given.

Example:
  orderctl sign partnerCode=MOMO orderId=ORD-1001_1709283600000 amount=500000 resultCode=0`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Wallet.SecretKey == "" {
				return fmt.Errorf("WALLET_SECRET_KEY is not set")
			}

			params := make(map[string]any, len(args))
			for _, arg := range args {
				key, value, ok := strings.Cut(arg, "=")
				if !ok || key == "" {
					return fmt.Errorf("expected key=value, got %q", arg)
				}
				params[key] = value
			}

			client := gateway.NewWalletClient(gateway.Config{
				PartnerCode: cfg.Wallet.PartnerCode,
				AccessKey:   cfg.Wallet.AccessKey,
				SecretKey:   cfg.Wallet.SecretKey,
			})

			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				keys := make([]string, 0, len(params))
				for k := range params {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				cmd.PrintErrf("signing %d params: %s\n", len(keys), strings.Join(keys, ","))
			}
			cmd.Println(client.SignCallback(params))
			return nil
		},
	}
	cmd.Flags().BoolP("verbose", "v", false, "print the signed keys to stderr")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID int64
		admin  bool
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be positive")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			p := auth.User(userID)
			if admin {
				p = auth.Admin(userID)
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			token, err := auth.IssueToken(p, ttl, []byte(cfg.Auth.JWTSecret))
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id (subject)")
	cmd.Flags().BoolVar(&admin, "admin", false, "issue an admin token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to JWT_TTL)")
	return cmd
}
