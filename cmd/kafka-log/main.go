// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/gloomers/node/internal/app"
	"github.com/gloomers/node/internal/runtime"
	"github.com/gloomers/node/workload/kafkalog"
)

func main() {
	handler := slog.NewJSONHandler(os.Stderr, nil)

	builder := app.Build(func(ctx context.Context) (app.RuntimeFunc, error) {
		return func(ctx context.Context) error {
			return runtime.Run(ctx, os.Stdin, os.Stdout, kafkalog.New, runtime.Options{
				Log: slog.New(handler),
			})
		}, nil
	})

	if err := app.Run(context.Background(), builder); err != nil {
		app.LogError(handler, err)
		os.Exit(1)
	}
}
