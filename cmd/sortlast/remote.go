package main

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/comm/wsstream"
	"github.com/gogpu/sortlast/session"
	"github.com/gogpu/sortlast/view"
)

// streamPath is where the server accepts its client.
const streamPath = "/stream"

// serve waits on ln for one client, then renders one frame on every rank.
// The root rank exchanges the render decision and the composited image
// with the client over the websocket. A second client is turned away.
func serve(ctx context.Context, ln net.Listener, cfg session.Config, fo frameOptions, logger *slog.Logger) ([]*image.RGBA, error) {
	streams := make(chan *wsstream.Stream, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(streamPath, func(w http.ResponseWriter, r *http.Request) {
		s, err := wsstream.Upgrade(w, r)
		if err != nil {
			logger.Error("client connection failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		select {
		case streams <- s:
			logger.Info("client connected", "remote", r.RemoteAddr)
		default:
			logger.Warn("rejecting second client", "remote", r.RemoteAddr)
			_ = s.Close()
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
		}
	}()
	defer srv.Close()

	logger.Info("waiting for client", "addr", ln.Addr().String(), "path", streamPath)
	var s *wsstream.Stream
	select {
	case s = <-streams:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer s.Close()

	return run(cfg, fo, s, logger)
}

// connect renders one frame as the client of the server at url and returns
// the client's shared window.
func connect(ctx context.Context, url string, cfg session.Config, fo frameOptions, logger *slog.Logger) (*image.RGBA, error) {
	s, err := wsstream.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	cfg.Role = view.RoleClient.String()
	g := comm.NewLocalGroup(1)
	defer g.Close()
	return renderRank(g.Comm(0), cfg, fo, s, session.WithRank(0), session.WithLogger(logger))
}
