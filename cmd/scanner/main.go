package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/civicscan/municipal-scanner/internal/ai"
	"github.com/civicscan/municipal-scanner/internal/api"
	"github.com/civicscan/municipal-scanner/internal/config"
	"github.com/civicscan/municipal-scanner/internal/db"
	"github.com/civicscan/municipal-scanner/internal/scan"
	"github.com/civicscan/municipal-scanner/internal/seed"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	scanProvince    string
	scanLimit       int
	scanRetryFailed bool
	scanDryRun      bool
	seedFilePath    string
)

var rootCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Municipal meeting-minutes scanner for procurement opportunities",
	Long: `Scans municipal council meeting minutes and agendas for waste, water and
wastewater procurement opportunities, and records them as RFPs.`,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a scan batch over seeded municipalities",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}

		ctx := context.Background()
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()

		if err := db.ApplyMigrations(ctx, pool); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}

		client, err := ai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
		if err != nil {
			log.Fatalf("Failed to create completion client: %v", err)
		}
		engine := ai.NewEngine(client, ai.EngineConfig{
			Model:               cfg.Model,
			Temperature:         cfg.Temperature,
			MaxTokens:           cfg.MaxTokens,
			ChunkSizeTokens:     cfg.ChunkSizeTokens,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
		})

		store := db.NewStore(pool, cfg.ProjectID)
		fetcher := scan.NewFetcher(cfg.Fetcher, time.Duration(cfg.FetchTimeoutSeconds)*time.Second)
		orch := scan.NewOrchestrator(
			store, fetcher, engine,
			time.Duration(cfg.DocumentDelayMS)*time.Millisecond,
			time.Duration(cfg.MunicipalityDelayMS)*time.Millisecond,
		)
		orch.DryRun = scanDryRun

		summary, err := orch.Run(ctx, scanProvince, scanLimit, scanRetryFailed)
		if err != nil {
			log.Fatalf("Scan failed: %v", err)
		}

		printSummary(summary)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load municipalities from a YAML seed file",
	Run: func(cmd *cobra.Command, args []string) {
		if seedFilePath == "" {
			log.Fatal("Seed file required: use --file")
		}

		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}

		ctx := context.Background()
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()

		if err := db.ApplyMigrations(ctx, pool); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}

		munis, err := seed.LoadFile(seedFilePath)
		if err != nil {
			log.Fatalf("Failed to load seed file: %v", err)
		}

		store := db.NewStore(pool, cfg.ProjectID)
		applied, err := seed.Apply(ctx, store, munis)
		if err != nil {
			log.Fatalf("Seeding incomplete (%d applied): %v", applied, err)
		}
		log.Printf("Seeded %d municipalities from %s", applied, seedFilePath)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ops HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}

		ctx := context.Background()
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()

		if err := db.ApplyMigrations(ctx, pool); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}

		srv := api.NewServer(db.NewStore(pool, cfg.ProjectID), cfg)
		log.Printf("Server starting on port %s...", cfg.Port)
		if err := srv.Start(cfg.Port); err != nil {
			log.Fatal(err)
		}
	},
}

func printSummary(summary *scan.ScanSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Municipality", "Province", "Status", "Docs", "Found", "Created", "Updated", "Error"})
	for _, r := range summary.Results {
		t.AppendRow(table.Row{
			r.Name, r.Province, r.Status, r.DocumentsFetched,
			r.OpportunitiesSeen, r.RFPsCreated, r.RFPsUpdated,
			truncateError(r.Error),
		})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d municipalities", summary.Municipalities), "",
		fmt.Sprintf("%d ok / %d failed", summary.Succeeded, summary.Failed),
		summary.DocumentsFetched, summary.OpportunitiesSeen,
		summary.RFPsCreated, summary.RFPsUpdated, "",
	})
	t.Render()

	if top := summary.TopProvinces(5); len(top) > 0 {
		fmt.Println("\nTop provinces by new RFPs:")
		for _, p := range top {
			fmt.Printf("  %-30s %d\n", p.Province, p.RFPsCreated)
		}
	}
	fmt.Printf("\nCompleted in %s\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second))
}

func truncateError(msg string) string {
	if len(msg) > 60 {
		return msg[:57] + "..."
	}
	return msg
}

func init() {
	scanCmd.Flags().StringVar(&scanProvince, "province", "", "Limit the batch to one province")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "Maximum municipalities to scan (0 = all)")
	scanCmd.Flags().BoolVar(&scanRetryFailed, "retry-failed", false, "Scan only previously failed municipalities")
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Log would-be writes without persisting")
	seedCmd.Flags().StringVar(&seedFilePath, "file", "", "Path to a YAML seed file")

	rootCmd.AddCommand(scanCmd, seedCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
