package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/emosense/companion/internal/observability"
	"github.com/emosense/companion/internal/resilience"
)

// Client talks to the emotion-therapy server over JSON/HTTP. Analysis calls
// are never retried; the supplementary read endpoints use bounded retry with
// exponential backoff.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   *resilience.RetryConfig
	logger     zerolog.Logger
}

// NewClient creates a therapy-server client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, retryCfg *resilience.RetryConfig) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retryCfg: retryCfg,
		logger:   observability.WithComponent("analysis"),
	}
}

func endpointFor(modality Modality) string {
	switch modality {
	case ModalityVoice:
		return "/analyze_voice"
	case ModalityFacial:
		return "/analyze_facial"
	default:
		return "/analyze_text"
	}
}

// Analyze sends one modality payload for analysis and returns the normalized
// result. Exactly one HTTP call is made per invocation; a transport failure
// or non-2xx status yields a *TransportError and the caller decides what to
// surface.
func (c *Client) Analyze(ctx context.Context, modality Modality, payload Payload) (*Result, error) {
	endpoint := endpointFor(modality)
	started := time.Now()

	body, err := json.Marshal(requestBody(modality, payload))
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordAnalysis(string(modality), false, started)
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.RecordAnalysis(string(modality), false, started)
		return nil, &TransportError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    readServerError(resp.Body),
		}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		observability.RecordAnalysis(string(modality), false, started)
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to decode analysis response: %w", err)}
	}

	observability.RecordAnalysis(string(modality), true, started)
	c.logger.Debug().
		Str("modality", string(modality)).
		Str("emotion", result.Emotion).
		Float64("confidence", result.Confidence).
		Dur("elapsed", time.Since(started)).
		Msg("Analysis completed")
	return &result, nil
}

func requestBody(modality Modality, payload Payload) map[string]interface{} {
	switch modality {
	case ModalityVoice:
		body := map[string]interface{}{"text": payload.Text}
		if payload.AudioFeatures != nil {
			body["audio_features"] = payload.AudioFeatures
		}
		return body
	case ModalityFacial:
		return map[string]interface{}{"image_data": payload.ImageData}
	default:
		return map[string]interface{}{"text": payload.Text}
	}
}

// readServerError pulls the {"error": ...} message out of a failed response,
// if one is present.
func readServerError(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Error
}

// BreathingExercise fetches the named guided exercise.
func (c *Client) BreathingExercise(ctx context.Context, exerciseType string) (*BreathingExercise, error) {
	var exercise BreathingExercise
	if err := c.getJSON(ctx, "/get_breathing_exercise/"+exerciseType, &exercise); err != nil {
		return nil, err
	}
	return &exercise, nil
}

// SessionInsights fetches the emotional summary of the server-side session.
func (c *Client) SessionInsights(ctx context.Context) (*Insights, error) {
	var body struct {
		Insights Insights `json:"insights"`
	}
	if err := c.getJSON(ctx, "/get_session_insights", &body); err != nil {
		return nil, err
	}
	return &body.Insights, nil
}

// ConversationHistory fetches the server-side conversation records in
// chronological order.
func (c *Client) ConversationHistory(ctx context.Context) ([]ConversationEntry, error) {
	var body struct {
		Conversation []ConversationEntry `json:"conversation"`
	}
	if err := c.getJSON(ctx, "/get_conversation_history", &body); err != nil {
		return nil, err
	}
	return body.Conversation, nil
}

// ClearSessionHistory asks the server to drop its records for this session.
func (c *Client) ClearSessionHistory(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clear_session_history", nil)
	if err != nil {
		return fmt.Errorf("failed to build clear request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Endpoint: "/clear_session_history", Err: err}
	}
	defer resp.Body.Close()

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &TransportError{Endpoint: "/clear_session_history", Err: fmt.Errorf("failed to decode clear response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !body.Success {
		return &TransportError{
			Endpoint:   "/clear_session_history",
			StatusCode: resp.StatusCode,
			Message:    body.Error,
		}
	}
	return nil
}

// Ping checks that the therapy server is reachable. Used by the readiness
// probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// getJSON performs a retried GET against a supplementary read endpoint and
// decodes the response into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	fn := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if resilience.IsRetryableNetworkError(err) {
				return resilience.NewRetryableError(err)
			}
			return &TransportError{Endpoint: endpoint, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			terr := &TransportError{
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				Message:    readServerError(resp.Body),
			}
			if resp.StatusCode >= 500 {
				return resilience.NewRetryableError(terr)
			}
			return terr
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		return nil
	}

	if err := resilience.Retry(fn, c.retryCfg, resilience.IsRetryable); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Supplementary fetch failed")
		return err
	}
	return nil
}
