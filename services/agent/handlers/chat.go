// Copyright (C) 2026 Dealdesk AI (engineering@dealdesk.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dealdesk/dealdesk/services/agent/datatypes"
	"github.com/dealdesk/dealdesk/services/agent/graph"
	"github.com/dealdesk/dealdesk/services/agent/stream"
	"github.com/dealdesk/dealdesk/services/llm"
)

// ChatStreamRequest is the body of POST /v1/chat/stream.
type ChatStreamRequest struct {
	DealID         string `json:"deal_id" binding:"required"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id" binding:"required"`
	Mode           string `json:"mode" binding:"omitempty,oneof=chat cim irl"`
	Message        string `json:"message" binding:"required"`
}

// HandleChatStream runs one conversational turn and streams the
// result as Server-Sent Events. The response is a sequence of token,
// source_added, approval_required, specialist_progress, error, and
// done events; the connection closes after done.
//
// Client disconnect cancels the turn; the checkpoint written after
// the last completed node lets the thread resume on the next request.
func HandleChatStream(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.ChatStream")
		defer span.End()

		var req ChatStreamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		mode := datatypes.WorkflowMode(req.Mode)
		if req.Mode == "" {
			mode = datatypes.ModeChat
		}
		thread, err := datatypes.NewThreadID(mode, req.DealID, req.UserID, req.ConversationID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(
			attribute.String("thread.mode", string(mode)),
			attribute.String("deal.id", req.DealID),
		)

		compiled, err := app.Graph()
		if err != nil {
			app.Logger.Error("graph compilation failed", "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "agent unavailable"})
			return
		}
		writer, err := NewSSEWriter(c.Writer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
			return
		}

		start := time.Now()
		s := stream.New(app.Tuning.Current().StreamBuffer)
		turn := &graph.Turn{
			Thread: thread,
			UserMessage: llm.ChatMessage{
				ID:      uuid.NewString(),
				Role:    llm.RoleUser,
				Content: req.Message,
			},
			Stream: s,
		}

		go func() {
			defer s.Close()
			st, invokeErr := compiled.Invoke(ctx, turn)
			if invokeErr != nil {
				// Invoke already emitted the error event; the terminal
				// done event still follows it.
				s.Emit(failedEvent(thread))
				app.recordTurn(ctx, mode, start, true)
				return
			}
			s.EmitSources(st)
			s.Emit(doneEvent(thread, st))
			app.recordTurn(ctx, mode, start, false)
		}()

		SetSSEHeaders(c.Writer)
		clientGone := c.Request.Context().Done()
		for {
			select {
			case ev, ok := <-s.Events():
				if !ok {
					return
				}
				if err := writer.WriteEvent(ev); err != nil {
					s.Cancel()
					return
				}
			case <-clientGone:
				s.Cancel()
				return
			}
		}
	}
}

// ChatResponse is the body returned by POST /v1/chat.
type ChatResponse struct {
	ThreadID        string                     `json:"thread_id"`
	Reply           string                     `json:"reply"`
	Sources         []datatypes.SourceCitation `json:"sources,omitempty"`
	Retrieval       *datatypes.RetrievalMeta   `json:"retrieval,omitempty"`
	NextSteps       []string                   `json:"next_steps,omitempty"`
	PendingApproval *datatypes.ApprovalRequest `json:"pending_approval,omitempty"`
	Errors          []datatypes.AgentError     `json:"errors,omitempty"`
}

// HandleChat runs one conversational turn and returns the final reply
// in a single response. Same semantics as the streaming endpoint
// without the event channel; batch clients and the eval harness use
// this shape.
func HandleChat(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.Chat")
		defer span.End()

		var req ChatStreamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		mode := datatypes.WorkflowMode(req.Mode)
		if req.Mode == "" {
			mode = datatypes.ModeChat
		}
		thread, err := datatypes.NewThreadID(mode, req.DealID, req.UserID, req.ConversationID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(
			attribute.String("thread.mode", string(mode)),
			attribute.String("deal.id", req.DealID),
		)

		compiled, err := app.Graph()
		if err != nil {
			app.Logger.Error("graph compilation failed", "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "agent unavailable"})
			return
		}

		start := time.Now()
		turn := &graph.Turn{
			Thread: thread,
			UserMessage: llm.ChatMessage{
				ID:      uuid.NewString(),
				Role:    llm.RoleUser,
				Content: req.Message,
			},
		}
		st, invokeErr := compiled.Invoke(ctx, turn)
		if invokeErr != nil {
			app.recordTurn(ctx, mode, start, true)
			c.JSON(http.StatusInternalServerError, gin.H{"error": invokeErr.Error()})
			return
		}
		app.recordTurn(ctx, mode, start, false)

		c.JSON(http.StatusOK, ChatResponse{
			ThreadID:        thread.String(),
			Reply:           lastAssistantContent(st),
			Sources:         st.TopSources(stream.MaxSourceEvents),
			Retrieval:       st.Retrieval,
			NextSteps:       nextSteps(st),
			PendingApproval: st.PendingApproval,
			Errors:          st.Errors,
		})
	}
}

// lastAssistantContent returns the content of the most recent
// assistant message, or empty when the turn produced none.
func lastAssistantContent(st *datatypes.State) string {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == llm.RoleAssistant && st.Messages[i].Content != "" {
			return st.Messages[i].Content
		}
	}
	return ""
}

// HandleHealth reports process liveness and cache backend health.
func HandleHealth(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"cache_healthy": app.Cache.Healthy(),
		})
	}
}

// HandleToolResult resolves the full rendition of a cached tool result
// by the reference embedded in the conversation transcript. Oversized
// results enter the model context as summaries; this is where the full
// payload is fetched.
func HandleToolResult(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := strings.TrimPrefix(c.Param("ref"), "/")
		if !strings.HasPrefix(ref, "tool/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "not a tool result reference"})
			return
		}
		res, ok := app.ToolCache.GetByRef(c.Request.Context(), ref)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "tool result expired or unknown"})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// HandleThreadState returns the checkpointed state for a thread, for
// client-side resume and debugging.
func HandleThreadState(app *App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "handlers.ThreadState")
		defer span.End()

		threadID := c.Param("thread")
		if _, err := datatypes.ParseThreadID(threadID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		st, found, err := app.Checkpointer.Load(ctx, threadID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkpoint load failed"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread has no checkpoint"})
			return
		}
		c.JSON(http.StatusOK, st)
	}
}
