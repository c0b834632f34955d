package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/doeshing/hostq/internal/domain"
)

const maxResponseBytes = 1 << 20

// chatClient is a configuration-driven chat endpoint client.
type chatClient struct {
	model      domain.ModelDefinition
	httpClient *http.Client
	getenv     func(string) string
}

// complete sends one chat request and returns the generated text. Transport
// failures wrap domain.ErrBackendUnavailable; unreadable replies wrap
// domain.ErrProtocol.
func (c *chatClient) complete(ctx context.Context, messages []domain.PromptMessage) (string, error) {
	requestBody, err := c.buildRequestBody(messages)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.model.Endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("%w: create HTTP request: %v", domain.ErrBackendUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.setAuthHeaders(httpReq); err != nil {
		return "", err
	}
	c.setExtraHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrBackendUnavailable, c.model.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response body: %w", domain.ErrBackendUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: %s: HTTP %d: %s", domain.ErrBackendUnavailable, c.model.Name, resp.StatusCode, snippet(body))
	}

	content, err := c.parseResponse(body)
	if err != nil {
		return "", fmt.Errorf("%w: parse response: %v", domain.ErrProtocol, err)
	}
	return content, nil
}

// buildRequestBody constructs the JSON request body based on the model's APIFormat configuration.
func (c *chatClient) buildRequestBody(messages []domain.PromptMessage) ([]byte, error) {
	format := c.model.APIFormat

	request := map[string]interface{}{
		"model": c.model.ModelID,
	}

	switch format.GetJSONMode() {
	case domain.JSONModeOllama:
		request["stream"] = false
		request["format"] = "json"
		if c.model.MaxTokens > 0 {
			request["options"] = map[string]interface{}{"num_predict": c.model.MaxTokens}
		}
		if c.model.KeepAlive != "" {
			request["keep_alive"] = c.model.KeepAlive
		}
	case domain.JSONModeOpenAI:
		request["response_format"] = map[string]string{"type": "json_object"}
		if c.model.MaxTokens > 0 {
			request["max_tokens"] = c.model.MaxTokens
		}
	default:
		if c.model.MaxTokens > 0 {
			request["max_tokens"] = c.model.MaxTokens
		}
	}

	if format.IsSystemMessageSeparate() {
		systemPrompt, chatMessages := splitSystemMessages(messages, format)
		if systemPrompt != "" {
			request["system"] = systemPrompt
		}
		request["messages"] = chatMessages
	} else {
		request["messages"] = formatMessagesInline(messages, format)
	}

	return json.Marshal(request)
}

// splitSystemMessages separates system messages for providers that take
// them in a separate field.
func splitSystemMessages(messages []domain.PromptMessage, format domain.APIFormat) (string, []map[string]interface{}) {
	var systemLines []string
	var chatMessages []map[string]interface{}

	for _, msg := range messages {
		if strings.EqualFold(msg.Role, "system") {
			systemLines = append(systemLines, msg.Content)
			continue
		}
		chatMessages = append(chatMessages, formatMessage(msg, format))
	}

	return strings.TrimSpace(strings.Join(systemLines, "\n\n")), chatMessages
}

func formatMessagesInline(messages []domain.PromptMessage, format domain.APIFormat) []map[string]interface{} {
	result := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		result = append(result, formatMessage(msg, format))
	}
	return result
}

func formatMessage(msg domain.PromptMessage, format domain.APIFormat) map[string]interface{} {
	message := map[string]interface{}{
		"role": strings.ToLower(msg.Role),
	}
	if format.IsContentWrapped() {
		message["content"] = []map[string]string{
			{"type": "text", "text": msg.Content},
		}
	} else {
		message["content"] = msg.Content
	}
	return message
}

// setAuthHeaders adds the API key when the model declares one. Local models
// without auth_env_var send no credentials.
func (c *chatClient) setAuthHeaders(req *http.Request) error {
	if !c.model.RequiresAPIKey() {
		return nil
	}
	apiKey := c.getenv(c.model.AuthEnvVar)
	if apiKey == "" {
		return fmt.Errorf("%w: missing API key: set %s", domain.ErrBackendUnavailable, c.model.AuthEnvVar)
	}
	format := c.model.APIFormat
	req.Header.Set(format.GetAuthHeaderName(), format.GetAuthHeaderPrefix()+apiKey)

	if c.model.OrgEnvVar != "" {
		if orgID := c.getenv(c.model.OrgEnvVar); orgID != "" {
			req.Header.Set("OpenAI-Organization", orgID)
		}
	}
	return nil
}

func (c *chatClient) setExtraHeaders(req *http.Request) {
	for key, value := range c.model.APIFormat.ExtraHeaders {
		req.Header.Set(key, value)
	}
}

// parseResponse extracts the generated text using the configured JSON path.
func (c *chatClient) parseResponse(body []byte) (string, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("unmarshal JSON: %w", err)
	}

	path := c.model.APIFormat.GetResponseJSONPath()
	content, err := extractJSONPath(response, path)
	if err != nil {
		return "", fmt.Errorf("extract from path '%s': %w", path, err)
	}
	return strings.TrimSpace(content), nil
}

// extractJSONPath extracts a string value using a simple path notation.
// Supported paths: "field", "field.nested", "field[0]", "field[0].nested.field"
func extractJSONPath(data map[string]interface{}, path string) (string, error) {
	var current interface{} = data

	for _, part := range parseJSONPath(path) {
		switch part.kind {
		case "field":
			obj, ok := current.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("expected object at '%s'", part.value)
			}
			var found bool
			current, found = obj[part.value]
			if !found {
				return "", fmt.Errorf("field '%s' not found", part.value)
			}

		case "index":
			arr, ok := current.([]interface{})
			if !ok {
				return "", fmt.Errorf("expected array at index %s", part.value)
			}
			var idx int
			if _, err := fmt.Sscanf(part.value, "%d", &idx); err != nil {
				return "", fmt.Errorf("bad index %q", part.value)
			}
			if idx < 0 || idx >= len(arr) {
				return "", fmt.Errorf("index %d out of bounds (len=%d)", idx, len(arr))
			}
			current = arr[idx]
		}
	}

	if str, ok := current.(string); ok {
		return str, nil
	}
	return "", fmt.Errorf("final value is not a string: %T", current)
}

type pathPart struct {
	kind  string // "field" or "index"
	value string
}

// parseJSONPath converts "content[0].text" into structured path parts.
func parseJSONPath(path string) []pathPart {
	var parts []pathPart
	current := ""

	for i := 0; i < len(path); i++ {
		ch := path[i]
		switch ch {
		case '.':
			if current != "" {
				parts = append(parts, pathPart{kind: "field", value: current})
				current = ""
			}
		case '[':
			if current != "" {
				parts = append(parts, pathPart{kind: "field", value: current})
				current = ""
			}
			j := i + 1
			for j < len(path) && path[j] != ']' {
				j++
			}
			if j < len(path) {
				parts = append(parts, pathPart{kind: "index", value: path[i+1 : j]})
				i = j
			}
		default:
			current += string(ch)
		}
	}

	if current != "" {
		parts = append(parts, pathPart{kind: "field", value: current})
	}
	return parts
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		return text[:200] + "..."
	}
	return text
}
