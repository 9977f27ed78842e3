package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"huddle/internal/export"
	"huddle/internal/session"
)

func registerGroups(api huma.API, m *session.Manager, header []string) {
	huma.Register(api, huma.Operation{
		OperationID: "create-groups",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/groups",
		Summary:     "Shuffle the roster into named groups",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CreateGroupsRequest `json:"body"`
	}) (*struct {
		Body GroupsResponse `json:"body"`
	}, error) {
		groups, err := m.Group(ctx, input.ID, input.Body.Size, input.Body.IceBreakers)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GroupsResponse `json:"body"`
		}{Body: GroupsResponse{Items: groups}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-groups",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/groups",
		Summary:     "Latest grouping",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body GroupsResponse `json:"body"`
	}, error) {
		groups, err := m.Groups(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GroupsResponse `json:"body"`
		}{Body: GroupsResponse{Items: groups}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-icebreaker",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/groups/{group_id}/icebreaker",
		Summary:     "Generate an ice breaker for one group",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		GroupID int    `path:"group_id" minimum:"1"`
	}) (*struct {
		Body IceBreakerResponse `json:"body"`
	}, error) {
		g, err := m.IceBreaker(ctx, input.ID, input.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body IceBreakerResponse `json:"body"`
		}{Body: IceBreakerResponse{GroupID: g.ID, Text: g.IceBreaker}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-groups-csv",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/groups.csv",
		Summary:     "Download the latest grouping as CSV",
		Errors:      []int{http.StatusNotFound},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "One row per group member",
				Content:     map[string]*huma.MediaType{"text/csv": {}},
			},
		},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		groups, err := m.Groups(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if len(groups) == 0 {
			return nil, newAPIError(http.StatusNotFound, "no_groups", "session has no groups yet", map[string]any{"session_id": input.ID})
		}
		var buf bytes.Buffer
		if err := export.WriteCSV(&buf, groups, header); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "text/csv; charset=utf-8",
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", export.DefaultFileName),
			Body:               buf.Bytes(),
		}, nil
	})
}
