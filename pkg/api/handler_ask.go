package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsintel/opsiq/pkg/errcode"
	"github.com/opsintel/opsiq/pkg/models"
)

// ask handles POST /ops/ask. The response is HTTP 200 whenever a structured
// answer exists, including orchestration failures; those carry their code in
// meta.error_code. Only transport-level problems produce a non-200.
func (s *Server) ask(c *gin.Context) {
	var req models.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errcode.Wrap(errcode.ValidationFailed, "invalid request body", err))
		return
	}

	resp, err := s.pipeline.Ask(c.Request.Context(), req, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// askStream handles POST /ops/ask/stream. Events follow the SSE framing
// "event: <name>" / "data: <json>": zero or more progress events, then
// exactly one complete or error event.
func (s *Server) askStream(c *gin.Context) {
	var req models.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errcode.Wrap(errcode.ValidationFailed, "invalid request body", err))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	events := make(chan models.ProgressEvent, 16)
	type outcome struct {
		resp *models.AskResponse
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer close(events)
		resp, err := s.pipeline.Ask(c.Request.Context(), req, func(event models.ProgressEvent) {
			select {
			case events <- event:
			case <-c.Request.Context().Done():
			}
		})
		done <- outcome{resp: resp, err: err}
	}()

	c.Stream(func(w io.Writer) bool {
		event, ok := <-events
		if !ok {
			result := <-done
			if result.err != nil {
				c.SSEvent(models.StreamEventError, models.StreamErrorEvent{
					ErrorCode: string(errcode.CodeOf(result.err)),
					Message:   result.err.Error(),
				})
			} else {
				c.SSEvent(models.StreamEventComplete, result.resp)
			}
			return false
		}
		c.SSEvent(models.StreamEventProgress, event)
		return true
	})
}
