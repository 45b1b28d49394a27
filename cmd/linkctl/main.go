package main

import (
	"github.com/robotalks/boardlink/pkg/cli/sh"
	"github.com/robotalks/boardlink/pkg/link/config"
)

//go-build: CGO_ENABLED=0

func init() {
	config.SetupFlags()
}

func main() {
	sh.Main()
}
