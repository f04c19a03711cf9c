package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"support-dispatch-backend/internal/api"
	"support-dispatch-backend/internal/archive"
	"support-dispatch-backend/internal/dto"
	"support-dispatch-backend/internal/model"
	"support-dispatch-backend/internal/service/dispatch"
	"support-dispatch-backend/utils"
)

type SupportEndpoints interface {
	Metrics(http.ResponseWriter, *http.Request) error
	Queue(http.ResponseWriter, *http.Request) error
	Agents(http.ResponseWriter, *http.Request) error
	Agent(http.ResponseWriter, *http.Request) error
	Session(http.ResponseWriter, *http.Request) error
	RequesterSessions(http.ResponseWriter, *http.Request) error
	MatchPreview(http.ResponseWriter, *http.Request) error
}

type SupportPaths struct {
	AgentPrefix     string
	SessionPrefix   string
	RequesterPrefix string
}

type supportEndpoints struct {
	dispatcher *dispatch.Dispatcher
	archive    archive.Reader
	paths      SupportPaths
}

// NewSupportEndpoints serves the dispatcher's read side. archived may be
// nil, in which case ended sessions are only found while the dispatcher
// still remembers them.
func NewSupportEndpoints(d *dispatch.Dispatcher, archived archive.Reader, prefix string) SupportEndpoints {
	base := strings.TrimRight(prefix, "/")
	return &supportEndpoints{
		dispatcher: d,
		archive:    archived,
		paths: SupportPaths{
			AgentPrefix:     base + "/agents/",
			SessionPrefix:   base + "/sessions/",
			RequesterPrefix: base + "/requesters/",
		},
	}
}

func (h *supportEndpoints) Metrics(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			return WriteJSON(w, http.StatusOK, h.dispatcher.Metrics(r.Context()))
		},
	})
}

func (h *supportEndpoints) Queue(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			entries := h.dispatcher.QueueSnapshot(r.Context())
			resp := dto.QueueResponse{Entries: entries, Depth: len(entries)}
			if _, at := h.dispatcher.LastEstimates(r.Context()); !at.IsZero() {
				resp.EstimatesRefreshedAt = at.UTC().Format(time.RFC3339)
			}
			return WriteJSON(w, http.StatusOK, resp)
		},
	})
}

func (h *supportEndpoints) Agents(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			agents := h.dispatcher.ListAgents(r.Context())
			online := 0
			for _, a := range agents {
				if a.Status.Online() {
					online++
				}
			}
			if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
				filtered := agents[:0]
				for _, a := range agents {
					if string(a.Status) == status {
						filtered = append(filtered, a)
					}
				}
				agents = filtered
			}
			return WriteJSON(w, http.StatusOK, dto.AgentListResponse{Agents: agents, Online: online})
		},
	})
}

func (h *supportEndpoints) Agent(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			id, err := pathID(r.URL.Path, h.paths.AgentPrefix)
			if err != nil {
				return err
			}
			agent, err := h.dispatcher.GetAgent(r.Context(), id)
			if err != nil {
				return serviceError(err)
			}
			return WriteJSON(w, http.StatusOK, agent)
		},
	})
}

func (h *supportEndpoints) Session(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			id, err := pathID(r.URL.Path, h.paths.SessionPrefix)
			if err != nil {
				return err
			}
			session, err := h.dispatcher.GetSession(r.Context(), id)
			if err == nil {
				return WriteJSON(w, http.StatusOK, session)
			}
			if !dispatch.IsNotFound(err) || h.archive == nil {
				return serviceError(err)
			}
			archived, archiveErr := h.archive.Get(r.Context(), id)
			if errors.Is(archiveErr, archive.ErrNotFound) {
				return serviceError(err)
			}
			if archiveErr != nil {
				return api.NewHTTPError(http.StatusBadGateway, "Archive unavailable", "archive get %s: %v", id, archiveErr)
			}
			return WriteJSON(w, http.StatusOK, archived)
		},
	})
}

// RequesterSessions serves /requesters/{id}/sessions: the requester's
// live session, if any, followed by archived ones when the archive can
// list by requester.
func (h *supportEndpoints) RequesterSessions(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			rest := strings.TrimPrefix(r.URL.Path, h.paths.RequesterPrefix)
			requesterID, ok := strings.CutSuffix(strings.TrimRight(rest, "/"), "/sessions")
			if !ok {
				return api.NewHTTPError(http.StatusNotFound, "Not found", "unknown requester path %s", r.URL.Path)
			}
			requesterID, err := pathID(requesterID, "")
			if err != nil {
				return err
			}

			resp := dto.RequesterSessionsResponse{RequesterID: requesterID}
			if live, ok := h.dispatcher.ActiveSessionFor(r.Context(), requesterID); ok {
				resp.Active = &live
			}
			if lister, ok := h.archive.(archive.RequesterLister); ok {
				archived, err := lister.ListByRequester(r.Context(), requesterID)
				switch {
				case errors.Is(err, archive.ErrListUnsupported):
				case err != nil:
					return api.NewHTTPError(http.StatusBadGateway, "Archive unavailable", "archive list %s: %v", requesterID, err)
				default:
					resp.Archived = archived
				}
			}
			return WriteJSON(w, http.StatusOK, resp)
		},
	})
}

// MatchPreview reports the agent a new request with the given skills and
// priority would go to. Nothing is assigned.
func (h *supportEndpoints) MatchPreview(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
			query := r.URL.Query()
			priority := model.Priority(strings.TrimSpace(query.Get("priority")))
			if priority == "" {
				priority = model.PriorityMedium
			}
			if !priority.Valid() {
				return &HTTPError{
					StatusCode: http.StatusBadRequest,
					Message:    "Invalid priority",
					ErrorLog:   fmt.Errorf("match preview: invalid priority %q", priority),
				}
			}
			skills := utils.SplitList(query.Get("skills"))

			agent, ok := h.dispatcher.FindBestAgent(r.Context(), skills, priority)
			resp := dto.MatchPreviewResponse{Matched: ok}
			if ok {
				resp.Agent = &agent
			}
			return WriteJSON(w, http.StatusOK, resp)
		},
	})
}

func pathID(path, prefix string) (string, error) {
	id := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if id == "" || strings.Contains(id, "/") {
		return "", &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("no resource id in path %s", path),
		}
	}
	return id, nil
}

func serviceError(err error) error {
	if err == nil {
		return nil
	}

	var svcErr *dispatch.Error
	if !errors.As(err, &svcErr) {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("dispatch service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case dispatch.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case dispatch.ErrorCodeUnauthorized:
		return &HTTPError{StatusCode: http.StatusForbidden, Message: svcErr.Message, ErrorLog: logErr}
	case dispatch.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	case dispatch.ErrorCodeInvalidTransition, dispatch.ErrorCodeCapacityExceeded:
		return &HTTPError{StatusCode: http.StatusConflict, Message: svcErr.Message, ErrorLog: logErr}
	case dispatch.ErrorCodePersistence:
		return &HTTPError{StatusCode: http.StatusServiceUnavailable, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}
