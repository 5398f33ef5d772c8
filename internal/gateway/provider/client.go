package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"botmarley/internal/logger"

	"github.com/tidwall/gjson"
)

// 中文说明：
// Client：兼容 OpenAI / DeepSeek / 本地推理服务的聊天补全客户端
// （/v1/chat/completions，stream=true），支持工具调用增量聚合。

type Client struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	// 整轮流式响应的超时；0 取默认 120s
	Timeout time.Duration
	// 简易重试（用于 429/5xx）：若为 0 则默认重试 2 次
	MaxRetries   int
	ExtraHeaders map[string]string

	httpc *http.Client
}

func NewClient(baseURL, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("provider model is required")
	}
	return &Client{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       model,
		Temperature: 0.5,
	}, nil
}

// endpoint 规范化 BaseURL，避免用户把完整的 /chat/completions 也写进配置导致重复路径。
func (c *Client) endpoint() string {
	url := strings.TrimSpace(c.BaseURL)
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimRight(url, "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	if !strings.HasSuffix(url, "/v1") && !strings.Contains(url, "/v1/") {
		url += "/v1"
	}
	return url + "/chat/completions"
}

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// ChatStream sends the transcript plus tool definitions and accumulates the
// streamed response into one Completion.
func (c *Client) ChatStream(ctx context.Context, messages []Message, tools []Tool) (*Completion, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	payload := chatPayload{
		Model:       c.Model,
		Messages:    messages,
		Tools:       tools,
		Temperature: c.Temperature,
		Stream:      true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}

	if c.httpc == nil {
		c.httpc = &http.Client{}
	}
	url := c.endpoint()
	logger.Debugf("[AI] 请求: POST %s model=%s messages=%d tools=%d", url, c.Model, len(messages), len(tools))

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		completion, status, retryAfter, err := c.doStream(reqCtx, url, body)
		cancel()
		if err == nil {
			return completion, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryableStatus(status) || attempt == maxRetries {
			break
		}
		wait := retryAfter
		if wait <= 0 {
			// 基本指数退避：0.8s, 1.6s, 3.2s ...
			wait = 800 * time.Millisecond << attempt
			if wait > 8*time.Second {
				wait = 8 * time.Second
			}
		}
		logger.Warnf("[AI] status=%d retrying in %s: %v", status, wait, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (c *Client) doStream(ctx context.Context, url string, body []byte) (*Completion, int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eresp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
	}

	completion, err := accumulateStream(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, 0, err
	}
	return completion, resp.StatusCode, 0, nil
}

// accumulateStream 聚合 SSE 增量：content 逐段拼接，tool_calls 按 index
// 合并 id/name/arguments 片段。
func accumulateStream(body io.Reader) (*Completion, error) {
	out := &Completion{}
	calls := map[int64]*ToolCall{}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		choice := gjson.Get(data, "choices.0")
		if !choice.Exists() {
			continue
		}
		if fr := choice.Get("finish_reason"); fr.Exists() && fr.String() != "" {
			out.FinishReason = fr.String()
		}
		delta := choice.Get("delta")
		if content := delta.Get("content"); content.Exists() {
			out.Content += content.String()
		}
		delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
			idx := tc.Get("index").Int()
			call, ok := calls[idx]
			if !ok {
				call = &ToolCall{Type: "function"}
				calls[idx] = call
			}
			if id := tc.Get("id"); id.Exists() && id.String() != "" {
				call.ID = id.String()
			}
			if typ := tc.Get("type"); typ.Exists() && typ.String() != "" {
				call.Type = typ.String()
			}
			if name := tc.Get("function.name"); name.Exists() && name.String() != "" {
				call.Function.Name += name.String()
			}
			if args := tc.Get("function.arguments"); args.Exists() {
				call.Function.Arguments += args.String()
			}
			return true
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	indexes := make([]int64, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	for _, idx := range indexes {
		out.ToolCalls = append(out.ToolCalls, *calls[idx])
	}
	return out, nil
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
