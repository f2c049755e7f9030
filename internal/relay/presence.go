package relay

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog/log"

	redisstore "github.com/gosuda/boardsync/internal/store/redis"
)

type GetPresenceInput struct {
	BoardID int64 `path:"boardID" minimum:"1" doc:"Board ID"`
}

type Presence struct {
	BoardID int64 `json:"board_id" doc:"Board ID"`
	Viewers int64 `json:"viewers" doc:"Open channel connections across all relay instances"`
}

type GetPresenceOutput struct {
	Body *Presence
}

func registerPresenceRoutes(api huma.API, pubsub *redisstore.PubSub) {
	huma.Register(api, huma.Operation{
		OperationID: "get-board-presence",
		Method:      http.MethodGet,
		Path:        "/boards/{boardID}/presence",
		Summary:     "Count the viewers of a board",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *GetPresenceInput) (*GetPresenceOutput, error) {
		n, err := pubsub.Viewers(ctx, input.BoardID)
		if err != nil {
			log.Error().Err(err).Int64("board_id", input.BoardID).Msg("relay: presence")
			return nil, huma.Error500InternalServerError("failed to count viewers")
		}
		return &GetPresenceOutput{Body: &Presence{BoardID: input.BoardID, Viewers: n}}, nil
	})
}
