package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tomaslejdung/sharescreen/pkg/controller"
	"github.com/tomaslejdung/sharescreen/pkg/media"
)

// logUI is the UI surface of a headless participant: everything is logged
type logUI struct {
	logger *zap.Logger
}

func (u *logUI) SetFlag(flag controller.Flag, on bool) {
	u.logger.Debug("flag", zap.String("flag", string(flag)), zap.Bool("on", on))
}

func (u *logUI) ShowError(message string) {
	u.logger.Warn(message)
}

func (u *logUI) PlayVideo(track media.Track, muted bool) {
	fields := []zap.Field{zap.String("track", track.ID()), zap.Bool("muted", muted)}
	if remote, ok := track.(media.RemoteTrack); ok {
		fields = append(fields, zap.String("from", string(remote.Participant())))
	}
	u.logger.Info("playing video", fields...)
}

func (u *logUI) PlayAudio(track media.Track) {
	u.logger.Info("playing audio", zap.String("track", track.ID()))
}

func (u *logUI) ClearScreen() {
	u.logger.Info("screen cleared")
}

// runHeadless joins, optionally requests sharing, and stays until ctx ends
// or the session connection drops.
func runHeadless(ctx context.Context, ctrl *controller.Controller, share bool, done <-chan struct{}, connErr func() error, logger *zap.Logger) error {
	teardown := func() error {
		teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ctrl.Teardown(teardownCtx)
	}

	if err := ctrl.Initialize(ctx); err != nil {
		return errors.Join(err, teardown())
	}
	if share {
		ctrl.RequestShare()
	}

	var err error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-done:
		err = connErr()
		logger.Warn("session connection lost", zap.Error(err))
	}
	return errors.Join(err, teardown())
}
