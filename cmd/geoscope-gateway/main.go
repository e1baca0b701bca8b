package main

import (
	"log"

	"github.com/geoscope/geoscope/core/gateway"
	"github.com/geoscope/geoscope/core/infra/buildinfo"
	"github.com/geoscope/geoscope/core/infra/config"
)

func main() {
	log.Println("geoscope gateway starting...")
	buildinfo.Log("geoscope-gateway")
	cfg := config.Load()
	if err := gateway.Run(cfg); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
