package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aistudio-bridge/bridge/internal/bridgeerr"
	"github.com/aistudio-bridge/bridge/internal/converter"
	"github.com/aistudio-bridge/bridge/internal/protocol"
	"github.com/aistudio-bridge/bridge/internal/queue"
)

// ErrorResponse is the OpenAI-shaped error envelope every JSON error this
// proxy returns uses, including errors surfaced on the native Gemini routes.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeError(c *gin.Context, err error) {
	status := bridgeerr.HTTPStatus(err)
	errType := "server_error"
	switch status {
	case 400:
		errType = "invalid_request_error"
	case 401:
		errType = "authentication_error"
	case 502, 503, 504:
		errType = "upstream_error"
	}
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Message: err.Error(), Type: errType}})
}

func errorFrame(err error) string {
	b, _ := json.Marshal(ErrorResponse{Error: ErrorDetail{Message: err.Error(), Type: "server_error"}})
	return string(b)
}

// sseDataLines extracts complete "data: <payload>" lines out of a byte
// stream fed in arbitrary fragments, buffering any trailing partial line
// across calls. The Client Agent forwards raw fetch() bytes untouched, so
// SSE framing has to be reassembled on this side of the duplex channel.
type sseDataLines struct {
	pending []byte
}

func (s *sseDataLines) feed(b []byte) [][]byte {
	s.pending = append(s.pending, b...)
	var out [][]byte
	for {
		idx := bytes.IndexByte(s.pending, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(s.pending[:idx], "\r")
		s.pending = s.pending[idx+1:]
		if bytes.HasPrefix(line, []byte("data:")) {
			payload := bytes.TrimSpace(line[len("data:"):])
			if len(payload) > 0 {
				out = append(out, payload)
			}
		}
	}
	return out
}

// drain reads chunk/stream_close/error events off q until the stream ends,
// resetting the idle deadline on every frame received, matching the Client
// Agent's own reset-on-data idle timeout.
func (h *Handler) drain(ctx context.Context, q *queue.Queue, onChunk func([]byte)) error {
	idle := time.Duration(h.config().UpstreamIdleTimeoutMS) * time.Millisecond
	if idle <= 0 {
		idle = 600 * time.Second
	}
	deadline := time.Now().Add(idle)

	for {
		select {
		case <-ctx.Done():
			return bridgeerr.ErrCanceled
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return bridgeerr.ErrUpstreamTimeout
		}

		ev, err := q.Dequeue(minDuration(remaining, 500*time.Millisecond))
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				continue
			}
			return bridgeerr.ErrDisconnected
		}
		deadline = time.Now().Add(idle)

		switch ev.Kind {
		case protocol.EventChunk:
			onChunk(ev.Data)
		case protocol.EventStreamClose:
			return nil
		case protocol.EventError:
			return bridgeerr.NewUpstreamStatusError(ev.Status, ev.Message)
		}
	}
}

// serveNonStreaming implements the non-streaming half of serve_openai_chat:
// the upstream call is always plain generateContent here, so the full body
// arrives as one concatenated buffer before translation.
func (h *Handler) serveNonStreaming(c *gin.Context, geminiBody []byte, model string, mode protocol.StreamingMode, responseID string, created int64) {
	ctx := c.Request.Context()
	var buf bytes.Buffer

	pipe := func(ctx context.Context, status int, headers map[string]string, q *queue.Queue) error {
		buf.Reset()
		return h.drain(ctx, q, func(b []byte) { buf.Write(b) })
	}

	if err := h.dispatch(ctx, geminiBody, model, mode, false, pipe); err != nil {
		writeError(c, err)
		return
	}

	out, err := converter.GeminiToOpenAINonStream(buf.Bytes(), model, responseID, created)
	if err != nil {
		writeError(c, bridgeerr.Wrap(bridgeerr.ErrFormatError, "translating response: %v", err))
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", out)
}

// serveStreaming implements the streaming half of serve_openai_chat. In real
// streaming mode the upstream call streams too and each reassembled SSE
// payload is translated and forwarded as it arrives; in fake mode a single
// non-streaming upstream call is made and its one response is handed to the
// same incremental emitter as a single frame.
func (h *Handler) serveStreaming(c *gin.Context, geminiBody []byte, model string, mode protocol.StreamingMode, responseID string, created int64) {
	ctx := c.Request.Context()
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	flusher, _ := c.Writer.(http.Flusher)

	upstreamStream := mode == protocol.StreamingReal
	state := converter.NewStreamState(responseID, model, created)

	var sse sseDataLines
	var nonStreamBuf bytes.Buffer

	pipe := func(ctx context.Context, status int, headers map[string]string, q *queue.Queue) error {
		sse = sseDataLines{}
		nonStreamBuf.Reset()
		if upstreamStream {
			return h.drain(ctx, q, func(b []byte) {
				for _, payload := range sse.feed(b) {
					fmt.Fprint(c.Writer, state.EmitChunk(payload))
				}
				if flusher != nil {
					flusher.Flush()
				}
			})
		}
		return h.drain(ctx, q, func(b []byte) { nonStreamBuf.Write(b) })
	}

	if err := h.dispatch(ctx, geminiBody, model, mode, upstreamStream, pipe); err != nil {
		if c.Writer.Written() {
			fmt.Fprintf(c.Writer, "data: %s\n\n", errorFrame(err))
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		writeError(c, err)
		return
	}

	if !upstreamStream {
		fmt.Fprint(c.Writer, state.EmitChunk(nonStreamBuf.Bytes()))
	}
	fmt.Fprint(c.Writer, state.Done())
	if flusher != nil {
		flusher.Flush()
	}
}

// dispatchRaw implements serve_gemini_native: the upstream body is forwarded
// to the client untouched. A real-streaming upstream call is piped byte for
// byte as it arrives; a fake-streaming request still issues a plain
// generateContent call and wraps the single response as one SSE data line so
// native clients asking for :streamGenerateContent still get a stream.
func (h *Handler) dispatchRaw(c *gin.Context, geminiBody []byte, model string, mode protocol.StreamingMode, stream bool) {
	ctx := c.Request.Context()
	upstreamStream := stream && mode == protocol.StreamingReal

	contentType := "application/json; charset=utf-8"
	if stream {
		contentType = "text/event-stream"
	}
	c.Header("Content-Type", contentType)
	flusher, _ := c.Writer.(http.Flusher)

	var buf bytes.Buffer
	headerWritten := false

	pipe := func(ctx context.Context, status int, headers map[string]string, q *queue.Queue) error {
		buf.Reset()
		headerWritten = false
		return h.drain(ctx, q, func(b []byte) {
			if !headerWritten {
				c.Writer.WriteHeader(http.StatusOK)
				headerWritten = true
			}
			if stream && !upstreamStream {
				buf.Write(b)
				return
			}
			c.Writer.Write(b)
			if flusher != nil {
				flusher.Flush()
			}
		})
	}

	if err := h.dispatch(ctx, geminiBody, model, mode, upstreamStream, pipe); err != nil {
		if headerWritten {
			return
		}
		writeError(c, err)
		return
	}

	if stream && !upstreamStream {
		fmt.Fprintf(c.Writer, "data: %s\n\n", buf.String())
		if flusher != nil {
			flusher.Flush()
		}
	}
}
