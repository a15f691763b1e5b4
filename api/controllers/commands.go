package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/wasessions-backend/api/responses"
	"github.com/angelmondragon/wasessions-backend/internal/commands"
	"github.com/angelmondragon/wasessions-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/wasessions-backend/pkg/errors"
	"github.com/angelmondragon/wasessions-backend/pkg/logger"
)

const maxCommandBody = 64 << 10

type commandEnqueuer interface {
	Enqueue(ctx context.Context, cmd commands.Command) (commands.Enqueued, error)
}

type commandAccepted struct {
	CommandID string `json:"commandId"`
	EntryID   string `json:"entryId"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// SessionCommand validates any command variant for the path session and
// appends it to the command stream. The path session id always wins over the
// body.
func SessionCommand(sessions sessionReader, enq commandEnqueuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := ownedSession(r, sessions)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if session.Status == enums.SessionDeleted {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "session is deleted"))
			return
		}

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body"))
			return
		}
		fields := map[string]json.RawMessage{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
				WithDetails(map[string]any{"error": err.Error()}))
			return
		}
		sessionID, _ := json.Marshal(session.ID.String())
		fields["sessionId"] = sessionID
		payload, err := json.Marshal(fields)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cmd, err := commands.Parse(string(payload))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, commandError(err))
			return
		}

		enqueued, err := enq.Enqueue(r.Context(), cmd)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue command"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, commandAccepted{
			CommandID: enqueued.CommandID,
			EntryID:   enqueued.EntryID,
			Type:      string(cmd.CommandType()),
			SessionID: cmd.Session(),
		})
	}
}

// SessionDelete enqueues session.delete for the path session.
func SessionDelete(sessions sessionReader, enq commandEnqueuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := ownedSession(r, sessions)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if session.Status == enums.SessionDeleted {
			responses.WriteSuccessStatus(w, http.StatusOK, toSessionResponse(session))
			return
		}

		cmd := commands.Delete{SessionID: session.ID.String()}
		enqueued, err := enq.Enqueue(r.Context(), cmd)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue command"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, commandAccepted{
			CommandID: enqueued.CommandID,
			EntryID:   enqueued.EntryID,
			Type:      string(cmd.CommandType()),
			SessionID: cmd.SessionID,
		})
	}
}

func commandError(err error) error {
	switch {
	case errors.Is(err, commands.ErrUnknownType):
		return pkgerrors.Wrap(pkgerrors.CodeUnsupported, err, "unsupported command type").
			WithDetails(map[string]any{"supported": commands.Types()})
	case errors.Is(err, commands.ErrMalformed):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid command").
			WithDetails(map[string]any{"error": err.Error()})
	}
	return err
}
