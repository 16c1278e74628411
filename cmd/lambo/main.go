// Package main is the entry point for lambo, the weight-adaptive load
// balancer control plane.
package main

import (
	"os"

	"github.com/archway-network/lambo/cmd/lambo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
