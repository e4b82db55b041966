package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/punchctl/internal/client"
	"github.com/danmuck/punchctl/internal/logging"
	"github.com/danmuck/punchctl/internal/observability"
)

func main() {
	confPath := flag.String("c", "punchcli.toml", "path to the config file")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.InitLogger("punchcli")

	cfg, err := loadServiceConfig(*confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "punchcli: %v\n", err)
		os.Exit(1)
	}

	svc, err := client.NewService(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "punchcli: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "punchcli: %v\n", err)
		os.Exit(1)
	}
}
