package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"assetdesk/pkg/config"
	"assetdesk/pkg/logger"
)

// OpenRouter is a Model backed by an OpenAI-compatible chat completions
// endpoint, read as a server-sent event stream.
type OpenRouter struct {
	client   *fasthttp.Client
	endpoint string
	apiKey   string
	timeout  time.Duration
	maxLine  int
}

// NewOpenRouter builds a client from the models config section.
func NewOpenRouter(cfg config.ModelsConfig) *OpenRouter {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	maxLine := int(cfg.MaxResponseBytes.Int64())
	if maxLine <= 0 {
		maxLine = 8 << 20
	}
	return &OpenRouter{
		client: &fasthttp.Client{
			Name:                "assetdesk",
			ReadTimeout:         timeout,
			WriteTimeout:        30 * time.Second,
			MaxIdleConnDuration: time.Minute,
			StreamResponseBody:  true,
		},
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		maxLine:  maxLine,
	}
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model       string                 `json:"model"`
	Messages    []Message              `json:"messages"`
	Tools       []wireTool             `json:"tools,omitempty"`
	Temperature float64                `json:"temperature"`
	Stream      bool                   `json:"stream"`
	Provider    map[string]interface{} `json:"provider,omitempty"`
}

func buildWireRequest(req Request) wireRequest {
	w := wireRequest{Model: req.Model, Messages: req.Messages, Temperature: req.Temperature, Stream: true}
	for _, t := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		w.Tools = append(w.Tools, wt)
	}
	if req.Private {
		w.Provider = map[string]interface{}{"data_collection": "deny"}
	}
	return w
}

// Complete sends req and streams the response through h.
func (o *OpenRouter) Complete(ctx context.Context, req Request, h StreamHandler) (Completion, error) {
	if o.apiKey == "" {
		return Completion{}, errors.New("models.api_key is not configured")
	}
	body, err := json.Marshal(buildWireRequest(req))
	if err != nil {
		return Completion{}, errors.Wrap(err, "encode completion request")
	}

	hreq := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(hreq)
	defer fasthttp.ReleaseResponse(resp)

	hreq.SetRequestURI(o.endpoint)
	hreq.Header.SetMethod(fasthttp.MethodPost)
	hreq.Header.SetContentType("application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	hreq.Header.Set("Authorization", "Bearer "+o.apiKey)
	hreq.Header.Set("X-Title", "assetdesk")
	hreq.SetBodyRaw(body)

	deadline := time.Now().Add(o.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	started := time.Now()
	if err := o.client.DoDeadline(hreq, resp, deadline); err != nil {
		return Completion{}, errors.Wrap(err, "completion request")
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return Completion{}, errors.Errorf("completion request: status %d: %s", code, upstreamError(resp.Body()))
	}
	logger.Debug("completion_stream_open", "model", req.Model, "ttfb_ms", time.Since(started).Milliseconds())

	var stream io.Reader = resp.BodyStream()
	if stream == nil {
		stream = bytes.NewReader(resp.Body())
	}
	return readStream(ctx, stream, o.maxLine, h)
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// readStream consumes "data:" events until [DONE] or EOF and assembles the
// completion. Tool call fragments are merged by index.
func readStream(ctx context.Context, r io.Reader, maxLine int, h StreamHandler) (Completion, error) {
	var out Completion
	var text, reasoning strings.Builder
	calls := map[int]*ToolCall{}
	order := []int{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == ':' || !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])
		if bytes.Equal(payload, []byte("[DONE]")) {
			break
		}
		var chunk wireChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			return out, errors.Wrap(err, "decode completion chunk")
		}
		if chunk.Error != nil {
			return out, errors.Errorf("upstream error: %s", chunk.Error.Message)
		}
		for _, ch := range chunk.Choices {
			if err := h.reasoning(ch.Delta.Reasoning); err != nil {
				return out, err
			}
			reasoning.WriteString(ch.Delta.Reasoning)
			if err := h.text(ch.Delta.Content); err != nil {
				return out, err
			}
			text.WriteString(ch.Delta.Content)
			for _, tc := range ch.Delta.ToolCalls {
				call, ok := calls[tc.Index]
				if !ok {
					call = &ToolCall{Type: "function"}
					calls[tc.Index] = call
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" && call.Function.Name == "" {
					call.Function.Name = tc.Function.Name
					if err := h.toolCall(tc.Index, call.ID, call.Function.Name); err != nil {
						return out, err
					}
				}
				call.Function.Arguments += tc.Function.Arguments
			}
			if ch.FinishReason != nil {
				out.FinishReason = *ch.FinishReason
			}
		}
	}
	if err := sc.Err(); err != nil {
		return out, errors.Wrap(err, "read completion stream")
	}
	out.Text = text.String()
	out.Reasoning = reasoning.String()
	for _, i := range order {
		out.ToolCalls = append(out.ToolCalls, *calls[i])
	}
	return out, nil
}

func upstreamError(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return string(body)
}
