package main

import (
	"os"

	"UsdnLedger/cmd/usdnd/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
