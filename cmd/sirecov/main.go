package main

import (
	"os"

	internal "github.com/ZanzyTHEbar/sirecov/sirecov"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		logger := internal.GetLogger()
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
