// Command calculatefines runs the overdue fine sweep once. Meant to be
// scheduled daily by cron or a systemd timer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"steppe-library/internal/circulation"
	"steppe-library/internal/platform/db"
	"steppe-library/internal/platform/events"
)

func main() {
	cfgPath := flag.String("config", db.DefaultConfigPath, "path to config.yaml")
	timeout := flag.Duration("timeout", 5*time.Minute, "give up after this long")
	flag.Parse()

	if err := run(*cfgPath, *timeout); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
}

func run(cfgPath string, timeout time.Duration) error {
	cfg, err := db.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer conn.Close()

	var pub events.Publisher = events.LogPublisher{}
	if cfg.Kafka.Enabled {
		pub = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	defer pub.Close()

	svc := circulation.NewService(circulation.NewStore(conn), circulation.Policy{
		LoanPeriodDays: cfg.Library.LoanPeriodDays,
		FinePerDay:     decimal.NewFromInt(cfg.Library.FinePerDay),
		Currency:       cfg.Library.Currency,
		ExpiryWindow:   time.Duration(cfg.Library.ReservationExpiryHours) * time.Hour,
	}, pub)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	res, err := svc.CalculateFines(ctx)
	if err != nil {
		return fmt.Errorf("calculate fines: %w", err)
	}
	log.Printf("[INFO] done in %s: %d created, %d updated", time.Since(start).Round(time.Millisecond), res.Created, res.Updated)
	return nil
}
