package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/voicebox-boards/epd-board-controller/internal/i2c"
	"github.com/voicebox-boards/epd-board-controller/internal/power"
)

var log = logrus.New()

var version = "<not set>"

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	if len(os.Args) < 2 {
		log.Info("Usage: epd-board-controller <power|i2c> [args]")
		return fmt.Errorf("no subcommand given")
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	var err error
	switch subcommand {
	case "power":
		err = power.Run(args, version)
	case "i2c":
		err = i2c.Run(args, version)
	default:
		err = fmt.Errorf("unknown subcommand: %s", subcommand)
	}

	return err
}
