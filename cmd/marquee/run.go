package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mmcdole/marquee/internal/channel"
	"github.com/mmcdole/marquee/internal/queue"
	"github.com/mmcdole/marquee/internal/service"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the refresh loop, asset server and queue channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if _, err := a.assets.BaseURL(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runKiosk(ctx, a)
		},
	}
}

func runKiosk(ctx context.Context, a *app) error {
	board := queue.NewBoard(queue.DefaultCapacity, a.logger.With("component", "queue"))
	board.OnCall(a.console.Call)

	sinks := service.Fanout{a.console, board}
	a.playlist.OnProgress(sinks.OnProgress)

	channels := channel.NewManager(channel.NewWebsocketDialer(), sinks,
		channel.WithMetrics(a.metrics),
		channel.WithLogger(a.logger.With("component", "channel")),
	)

	kiosk := service.NewKiosk(a.source, a.playlist, channels, board, service.Options{
		Interval:        a.cfg.Refresh.Interval,
		RetryDelay:      a.cfg.Refresh.RetryDelay,
		ClinicAPIOrigin: a.cfg.Clinic.APIOrigin,
		ClinicWSOrigin:  a.cfg.Clinic.WSOrigin,
	}, a.logger.With("component", "kiosk"))

	kiosk.OnUpdate(func(s service.State) {
		a.console.Playlist(s.Playlist)
		a.console.Notices(s.Notices)
		if s.Playlist.Error != "" || len(s.Playlist.Items) == 0 {
			a.logger.Info("nothing to play, showing landing page", "url", a.cfg.Scenario.LandingURL)
		}
	})

	return kiosk.Run(ctx)
}
