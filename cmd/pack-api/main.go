package main

import (
	"context"
	"log/slog"

	"github.com/BearBump/PackBox/internal/observability"
)

func main() {
	slog.SetDefault(observability.NewLogger())

	app := mustBootstrapPackAPI()
	defer app.Close()

	if err := app.Run(); err != nil && err != context.Canceled {
		panic(err)
	}
}
