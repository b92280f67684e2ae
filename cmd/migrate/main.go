// Package main applies the embedded schema migrations.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jason-s-yu/roomservice/internal/config"
	"github.com/jason-s-yu/roomservice/internal/database"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to a config file (optional)")
	direction := flag.String("direction", "up", "migration direction: up or down")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	version, dirty, err := database.Migrate(cfg.Database.DSN(), *direction, *steps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "migrated %s to version=%d dirty=%v [%s]\n", *direction, version, dirty, time.Since(start))
}
