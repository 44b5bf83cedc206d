package main

import (
	"singalong/internal/app"
	"singalong/internal/config"
)

func main() {
	cfg := config.Load()
	app := app.New(cfg)
	app.Run()
}
