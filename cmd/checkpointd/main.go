// Command checkpointd runs a scheduled maintenance pass over a
// long-lived database handle: each run logs Handle.Stats and the result
// of Handle.Check, a VerifyDB-driven reachability check. It is the
// WAL-less analogue of the teacher's cron-driven checkpoint tool (this
// engine has no WAL to checkpoint — see spec.md's Non-goals). The job
// issues no fsync of its own; each commit already fsyncs.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/SimonWaldherr/tinySQL/internal/storage/pager"
)

type config struct {
	DB       string `yaml:"db"`
	Schedule string `yaml:"schedule"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (db, schedule)")
	dbFlag := flag.String("db", "", "path to the database file")
	scheduleFlag := flag.String("schedule", "", "cron schedule, e.g. \"@every 5m\"")
	flag.Parse()

	var cfg config
	if *configPath != "" {
		var err error
		cfg, err = loadConfig(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}
	if *dbFlag != "" {
		cfg.DB = *dbFlag
	}
	if *scheduleFlag != "" {
		cfg.Schedule = *scheduleFlag
	}
	if cfg.DB == "" {
		log.Fatal("no database path given (-db or config's \"db\" key)")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 5m"
	}

	h, err := pager.OpenDB(pager.HandleConfig{Path: cfg.DB})
	if err != nil {
		log.Fatalf("opening %s: %v", cfg.DB, err)
	}
	defer h.Close()

	c := cron.New()
	_, err = c.AddFunc(cfg.Schedule, func() {
		runCheckpoint(h)
	})
	if err != nil {
		log.Fatalf("bad schedule %q: %v", cfg.Schedule, err)
	}
	c.Start()
	defer c.Stop()

	log.Printf("checkpointd running against %s on schedule %q", cfg.DB, cfg.Schedule)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Print("checkpointd shutting down")
}

func runCheckpoint(h *pager.Handle) {
	stats, err := h.Stats()
	if err != nil {
		log.Printf("checkpoint: stats failed: %v", err)
		return
	}
	problems, err := h.Check()
	if err != nil {
		log.Printf("checkpoint: integrity check failed: %v", err)
		return
	}
	if len(problems) > 0 {
		log.Printf("checkpoint: %d integrity problems found on %s", len(problems), stats.DBPath)
		for _, p := range problems {
			log.Printf("  %s", p)
		}
		return
	}
	log.Printf("checkpoint: %s clean, %d pages (%d free)", stats.DBPath, stats.PageCount, stats.FreePages)
}
