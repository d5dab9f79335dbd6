package main

import (
	"os"

	internallog "github.com/corebgp/corebgp/internal/log"

	"github.com/corebgp/corebgp/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		internallog.WithError(err).Error("corebgp: fatal")
		os.Exit(1)
	}
}
