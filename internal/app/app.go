// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app provides the process lifecycle every cmd/* entry point runs
// under: build a Runtime, derive a context canceled on SIGINT/SIGTERM, run
// the Runtime under it, and log the terminal error, if any. The Runtime
// itself (runtime.Run, wrapping os.Stdin/os.Stdout) is what returns once
// its input is exhausted; this package only supplies the signal-driven
// half of shutdown.
package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Builder produces the long-lived value a cmd/* main runs: for this
// module that's always a Runtime wrapping runtime.Run for one workload.
type Builder[T any] interface {
	Build(context.Context) (T, error)
}

// BuilderFunc adapts a plain function to Builder.
type BuilderFunc[T any] func(context.Context) (T, error)

// Build implements Builder.
func (f BuilderFunc[T]) Build(ctx context.Context) (T, error) {
	return f(ctx)
}

// Build wraps f as a Builder.
func Build[T any](f func(context.Context) (T, error)) Builder[T] {
	return BuilderFunc[T](f)
}

// Runtime is a node process: Run blocks until the node shuts down, cleanly
// or otherwise.
type Runtime interface {
	Run(context.Context) error
}

// RuntimeFunc adapts a plain function to Runtime.
type RuntimeFunc func(context.Context) error

// Run implements Runtime.
func (f RuntimeFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Run builds and runs a node under a context canceled by SIGINT/SIGTERM, so
// a Maelstrom-initiated process kill unwinds the reader/driver/timer pool
// the same way stdin EOF does.
func Run[T Runtime](ctx context.Context, builder Builder[T]) error {
	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := builder.Build(sigCtx)
	if err != nil {
		return err
	}

	return rt.Run(sigCtx)
}

// LogError logs a node's terminal error, if any, to handler.
func LogError(handler slog.Handler, err error) {
	if err == nil {
		return
	}

	log := slog.New(handler)
	log.Error("node exited with error", slog.Any("error", err))
}
