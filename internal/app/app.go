package app

import (
	"context"
	"log/slog"
)

type app struct {
	di *dependencyInjector
}

func New(cfgPath string) *app {
	return &app{di: newDI(cfgPath)}
}

func (a *app) Run(ctx context.Context) error {
	a.di.Logger()

	e := a.di.Engine(ctx)
	if err := e.Run(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	slog.Info("worker shutting down...")
	e.Stop(context.Background())

	if err := a.di.SpeechClient(ctx).Close(); err != nil {
		slog.Warn("close speech client", slog.String("error", err.Error()))
	}
	if nc := a.di.natsConn; nc != nil {
		if err := nc.Drain(); err != nil {
			slog.Warn("NATS drain", slog.String("error", err.Error()))
		}
	}
	if rdb := a.di.redis; rdb != nil {
		if err := rdb.Close(); err != nil {
			slog.Warn("close redis", slog.String("error", err.Error()))
		}
	}

	return nil
}
