// Package main получает токен, читает список клиентов и печатает его.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mmeshcher/customer-orders/internal/apiclient"
	"github.com/mmeshcher/customer-orders/internal/config"
	"github.com/mmeshcher/customer-orders/internal/model"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.ParseClient()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := apiclient.NewClient(cfg.APIBaseURL,
		apiclient.WithLogger(logger),
		apiclient.WithTimeout(cfg.RequestTimeout),
		apiclient.WithRetryUnit(cfg.RetryUnit),
	)

	if err := run(ctx, client, cfg, os.Stdout); err != nil {
		sugar.Fatalw("client terminated with error", "error", err)
	}
}

// customerFetcher — операции API, нужные клиенту командной строки.
type customerFetcher interface {
	AcquireToken(ctx context.Context, username, password string) (apiclient.Credential, error)
	FetchCustomers(ctx context.Context, cred apiclient.Credential) ([]model.Customer, error)
}

func run(ctx context.Context, client customerFetcher, cfg *config.ClientConfig, out io.Writer) error {
	cred, err := client.AcquireToken(ctx, cfg.APIUsername, cfg.APIPassword)
	if err != nil {
		return err
	}

	customers, err := client.FetchCustomers(ctx, cred)
	if err != nil {
		return err
	}

	printCustomers(out, customers)
	return nil
}

func printCustomers(out io.Writer, customers []model.Customer) {
	if len(customers) == 0 {
		fmt.Fprintln(out, "No customers found.")
		return
	}

	for _, c := range customers {
		name := ""
		if c.Name != nil {
			name = *c.Name
		}
		fmt.Fprintf(out, "Customer: %s (ID: %d)\n", name, c.CustomerID)
	}
}
