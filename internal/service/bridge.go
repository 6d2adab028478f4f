// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/oncf-ar/internal/bridge"
	"github.com/wneessen/oncf-ar/internal/job"
)

// runBridge serves AR sessions to remote devices until ctx is done. The local sensors
// and the stdout overlay are not used in this mode.
func (s *Service) runBridge(ctx context.Context) error {
	srv, err := bridge.New(s.config, s.logger, s.catalogue, s.camera, s.presenter)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	status := job.New("bridge_status", s.config.Intervals.Status, func(context.Context) {
		s.logger.Info("current bridge status", slog.Int64("connections", srv.Connections()))
	}, job.WithImmediateRun())
	go status.Start(ctx)

	return srv.ListenAndServe(ctx)
}
