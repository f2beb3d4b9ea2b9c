// Command northstard is the Northstar container runtime daemon (spec.md
// §1/§6). Invoked with launcher.ReexecArg as argv[1] it instead becomes the
// init process of a freshly launched container (spec.md §4.D.5); that
// re-exec dispatch mirrors the teacher's own rpc server/starter split
// between the daemon process and its forked engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ceigel/northstar/internal/pkg/config"
	"github.com/ceigel/northstar/internal/pkg/launcher"
	"github.com/ceigel/northstar/internal/pkg/mount"
	"github.com/ceigel/northstar/internal/pkg/northstard"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == launcher.ReexecArg {
		launcher.RunInit()
		return
	}
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/northstar/northstar.toml", "path to the runtime TOML configuration")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "northstard: %s\n", err)
		return int(northstard.ExitConfigError)
	}

	if err := mount.Cleanup(cfg.RunDir); err != nil {
		logrus.WithError(err).Warn("stale mount cleanup reported errors")
	}

	return northstard.Run(context.Background(), cfg)
}
