package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/selvaterra/checkout/internal/accounts"
	"github.com/selvaterra/checkout/internal/config"
	"github.com/selvaterra/checkout/internal/flow"
	"github.com/selvaterra/checkout/internal/inventory"
	"github.com/selvaterra/checkout/internal/logging"
	"github.com/selvaterra/checkout/internal/notify"
	"github.com/selvaterra/checkout/internal/orders"
	"github.com/selvaterra/checkout/internal/postgres"
	"github.com/selvaterra/checkout/internal/redisx"
	"github.com/selvaterra/checkout/internal/webhook"
)

type env struct {
	cfg config.Config
	log zerolog.Logger
	db  *pgxpool.Pool
}

func open(ctx context.Context) (*env, error) {
	cfg := config.Load()
	log := logging.Setup("shopctl", false, cfg.LogLevel)
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	return &env{cfg: cfg, log: log, db: db}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func reconcileCmd() *cobra.Command {
	var noEmail bool
	cmd := &cobra.Command{
		Use:   "reconcile [orderId]",
		Short: "Re-run payment reconciliation for an order against the gateway",
		Long: `Queries the gateway for the order's payment status and applies it the
same way the webhook does. Stock and course effects already applied are
skipped, so running it twice is safe.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			e, err := open(ctx)
			if err != nil {
				return err
			}
			defer e.db.Close()

			gateway, err := flow.NewClient(flow.Config{
				BaseURL:   e.cfg.FlowBaseURL(),
				APIKey:    e.cfg.FlowAPIKey,
				SecretKey: e.cfg.FlowSecretKey,
				Log:       e.log,
			})
			if err != nil {
				return err
			}
			r := &webhook.Reconciler{
				Gateway:   gateway,
				Orders:    &orders.Repo{DB: e.db},
				Inventory: &inventory.Store{DB: e.db, Log: e.log},
				SecretKey: e.cfg.FlowSecretKey,
				Log:       e.log,
			}
			if !noEmail {
				r.Mailer = &notify.LogSender{Log: e.log, Render: notify.NewRenderer()}
				if e.cfg.ResendAPIKey != "" {
					r.Mailer = notify.NewResendClient(e.cfg.ResendAPIKey, e.cfg.EmailFrom)
				}
				if e.cfg.RedisAddr == "" {
					return fmt.Errorf("REDIS_ADDR is required to send email without risking a duplicate; pass --no-email")
				}
				rdb := redisx.New(e.cfg.RedisAddr)
				defer rdb.Close()
				r.Ledger = redisx.NewLedger(rdb)
				r.Cache = redisx.NewStatusCache(rdb)
			}

			out, err := r.Reconcile(ctx, webhook.Notification{CommerceOrder: args[0]})
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().BoolVar(&noEmail, "no-email", false, "Skip the confirmation email")
	return cmd
}

func orderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "order [orderId]",
		Short: "Print a stored order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()

			o, err := (&orders.Repo{DB: e.db}).GetByOrderID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if o == nil {
				return fmt.Errorf("order %s not found", args[0])
			}
			fmt.Printf("status: %s\n", o.PaymentStatus)
			if e.cfg.RedisAddr != "" {
				rdb := redisx.New(e.cfg.RedisAddr)
				defer rdb.Close()
				key := fmt.Sprintf(redisx.KeyEmailSent, o.OrderID+":"+o.PaymentStatus.String())
				sent, err := redisx.Exists(cmd.Context(), rdb, key)
				if err != nil {
					return fmt.Errorf("email ledger: %w", err)
				}
				fmt.Printf("confirmation sent: %t\n", sent)
			}
			return printJSON(o)
		},
	}
}

func stockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stock [terrariumId]",
		Short: "Show a terrarium's stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()

			name, stock, inStock, err := (&inventory.Store{DB: e.db, Log: e.log}).GetTerrarium(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%-10s %s\n", "id:", args[0])
			fmt.Printf("%-10s %s\n", "name:", name)
			fmt.Printf("%-10s %d\n", "stock:", stock)
			fmt.Printf("%-10s %t\n", "in stock:", inStock)
			return nil
		},
	}
}

func linkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link [userId] [email]",
		Short: "Attach guest orders placed with email to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()

			sum, err := (&accounts.Linker{Orders: &orders.Repo{DB: e.db}, Log: e.log}).LinkGuestOrders(cmd.Context(), args[0], args[1])
			if perr := printJSON(sum); perr != nil {
				return perr
			}
			return err
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()
			if err := postgres.Migrate(cmd.Context(), e.db); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user [userId]",
		Short: "List the orders of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()

			list, err := (&orders.Repo{DB: e.db}).GetOrdersByUserID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, o := range list {
				fmt.Printf("%s  %-8s  %d %s  %s\n", o.OrderID, o.PaymentStatus, o.Total, o.Currency, o.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func accessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "access [userId] [courseId]",
		Short: "Show a user's access to a course",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()

			a, err := (&orders.Repo{DB: e.db}).GetCourseAccess(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if a == nil {
				return fmt.Errorf("user %s has no access to %s", args[0], args[1])
			}
			return printJSON(a)
		},
	}
}
