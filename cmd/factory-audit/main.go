package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"stablefactory/config"
	"stablefactory/services/factoryd/audit"
)

func main() {
	configPath := flag.String("config", "./factoryd.toml", "Path to factoryd configuration file")
	outDir := flag.String("out", "./audit-reports", "Directory receiving the CSV and Parquet reports")
	window := flag.Duration("window", 24*time.Hour, "Length of the exported window ending at -until")
	untilRaw := flag.String("until", "", "RFC3339 end of the window (default now)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	end := time.Now().UTC()
	if *untilRaw != "" {
		end, err = time.Parse(time.RFC3339, *untilRaw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -until: %v\n", err)
			os.Exit(1)
		}
	}

	store, err := audit.Open(cfg.AuditDSN, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open audit log: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	report, err := store.Export(context.Background(), *outDir, end.Add(-*window), end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to export audit log: %v\n", err)
		os.Exit(1)
	}

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}
