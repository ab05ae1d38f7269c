package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/adfleet/cmd/adfleet-device-agent/app"
)

func main() {
	app.NewApp().Run()
}
