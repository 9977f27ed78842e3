package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"huddle/internal/domain"
	"huddle/internal/draw"
	"huddle/internal/session"
)

func drawResponse(m *session.Manager, id string, winner domain.Participant) (DrawResponse, error) {
	info, err := m.Get(id)
	if err != nil {
		return DrawResponse{}, err
	}
	return DrawResponse{Winner: winner, PoolSize: info.PoolSize, History: info.History}, nil
}

func registerDraws(api huma.API, m *session.Manager, logger *slog.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "draw",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/draw",
		Summary:     "Draw one participant immediately",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body DrawResponse `json:"body"`
	}, error) {
		winner, err := m.Draw(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp, err := drawResponse(m, input.ID, winner)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DrawResponse `json:"body"`
		}{Body: resp}, nil
	})

	sse.Register(api, huma.Operation{
		OperationID: "spin",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/draw/spin",
		Summary:     "Spin the reel",
		Description: "Streams spinning frames, then a settled frame and the winner. Failures arrive as an error event. Closing the stream before the last frame cancels the draw.",
	}, map[string]any{
		"frame":  FrameEvent{},
		"winner": WinnerEvent{},
		"error":  ErrorEvent{},
	}, func(ctx context.Context, input *sessionPath, send sse.Sender) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		winner, err := m.Spin(ctx, input.ID, func(f draw.Frame) {
			if err := send.Data(frameEvent(f)); err != nil {
				// client went away
				cancel()
			}
		})
		if err == nil {
			var resp DrawResponse
			resp, err = drawResponse(m, input.ID, winner)
			if err == nil {
				_ = send.Data(WinnerEvent(resp))
				return
			}
		}
		if ctx.Err() != nil {
			logger.Info("spin cancelled", "session", input.ID)
			return
		}
		if apiErr, ok := handleError(err).(*apiError); ok {
			_ = send.Data(ErrorEvent(apiErr.Body))
		}
	})
}
