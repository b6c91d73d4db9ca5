package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client evaluates answers by calling an OpenAI-compatible chat endpoint
// (Ollama, LM Studio, vLLM, or a hosted API).
type Client struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

var _ Evaluator = (*Client)(nil)

func NewClient(url, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// Evaluate sends one answer to the model and parses the {score, feedback}
// object out of its reply. Scores outside [0,1] are clamped.
func (c *Client) Evaluate(ctx context.Context, question, answer, criteria string) (*Result, error) {
	raw, err := c.callModel(ctx, buildPrompt(question, answer, criteria))
	if err != nil {
		return nil, err
	}

	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return nil, &EvaluationError{Reason: "no JSON object found in model response"}
	}

	var result Result
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, &EvaluationError{Reason: "invalid JSON from model", Wrapped: err}
	}

	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 1 {
		result.Score = 1
	}

	return &result, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) callModel(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned status %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode model response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}

	content := chatResp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("model returned empty content")
	}

	return content, nil
}

// buildPrompt keeps the instructions short and directive, with the JSON
// schema as the last thing the model sees.
func buildPrompt(question, answer, criteria string) string {
	if criteria == "" {
		criteria = "Judge correctness and completeness of the answer relative to the question."
	}

	return fmt.Sprintf(`You are grading a student's answer to a test question.

EVALUATION CRITERIA:
%s

QUESTION:
%s

STUDENT'S ANSWER:
%s

Score the answer from 0.0 (completely wrong) to 1.0 (fully correct) against the criteria, and write one or two sentences of feedback for the student.

Respond with ONLY this JSON, no explanation, no markdown:
{"score": 0.0, "feedback": "..."}`, criteria, question, answer)
}

// extractJSON finds the outermost JSON object in a string, skipping
// braces inside quoted strings.
func extractJSON(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range s {
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
