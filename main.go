package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

var (
	log = logging.Logger("hub")
)

func main() {
	if err := logging.SetLogLevel("*", "info"); err != nil {
		log.Fatal(err)
	}
	app := &cli.App{
		Name:    "hub",
		Usage:   "payment channel hub ledger",
		Version: "0.1.0",
		Flags:   []cli.Flag{},
		Commands: []*cli.Command{
			cmdInitDb,
			cmdHub,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
