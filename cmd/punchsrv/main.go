package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/punchctl/internal/logging"
	"github.com/danmuck/punchctl/internal/observability"
	"github.com/danmuck/punchctl/internal/server"
)

func main() {
	confPath := flag.String("c", "punchsrv.toml", "path to the config file")
	flag.Parse()

	logging.ConfigureRuntime()
	observability.InitLogger("punchsrv")

	cfg, err := loadServiceConfig(*confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "punchsrv: %v\n", err)
		os.Exit(1)
	}

	svc, err := server.NewService(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "punchsrv: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "punchsrv: %v\n", err)
		os.Exit(1)
	}
}
