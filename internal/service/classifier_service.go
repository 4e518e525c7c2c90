package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/civicdesk/civicdesk-api/internal/models"
	"github.com/civicdesk/civicdesk-api/pkg/config"
)

// Classification is the triage triple produced for a complaint.
type Classification struct {
	Urgency    models.Urgency    `json:"urgency"`
	Category   models.Category   `json:"category"`
	Department models.Department `json:"department"`
}

// FallbackClassification is the fixed triage applied when the external
// classifier is unconfigured or fails. Complaints never stay unclassified.
func FallbackClassification() Classification {
	return Classification{
		Urgency:    models.FallbackUrgency,
		Category:   models.FallbackCategory,
		Department: models.FallbackDepartment,
	}
}

// ClassifierService calls an OpenAI-compatible chat-completions endpoint to
// triage complaint text. Every failure path resolves to the fallback triple;
// Classify never surfaces collaborator errors to its caller.
type ClassifierService struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	logger  *zap.Logger
	metrics *MetricsService
}

// NewClassifierService constructs the classifier client.
func NewClassifierService(cfg config.ClassifierConfig, logger *zap.Logger) *ClassifierService {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &ClassifierService{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		logger:  logger,
	}
}

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []chatCompletionMsg `json:"messages"`
	Temperature float64             `json:"temperature"`
	ResponseFmt *responseFormat     `json:"response_format,omitempty"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

const classifyPrompt = `Analyze the following municipal complaint and classify it.
Complaint: %q

Answer with a single JSON object with exactly these keys:
"urgency": one of "High", "Medium", "Low"
"category": one of "Infrastructure", "Service", "Safety", "Billing", "Other"
"department": one of "Public Works", "Utilities", "Parks and Recreation", "Administration", "General"`

// AttachMetrics wires the classification outcome counter.
func (s *ClassifierService) AttachMetrics(metrics *MetricsService) {
	s.metrics = metrics
}

// Classify triages the complaint text. Without credentials, on transport
// errors, and on malformed answers it returns the fallback triple.
func (s *ClassifierService) Classify(ctx context.Context, text string) Classification {
	if s.apiKey == "" {
		s.logger.Debug("classifier not configured, using fallback")
		s.metrics.RecordClassification("fallback")
		return FallbackClassification()
	}

	result, err := s.requestClassification(ctx, text)
	if err != nil {
		s.logger.Warn("classification failed, using fallback", zap.Error(err))
		s.metrics.RecordClassification("fallback")
		return FallbackClassification()
	}
	if !result.Urgency.Valid() || !result.Category.Valid() || !result.Department.Valid() {
		s.logger.Warn("classifier answer outside schema, using fallback",
			zap.String("urgency", string(result.Urgency)),
			zap.String("category", string(result.Category)),
			zap.String("department", string(result.Department)))
		s.metrics.RecordClassification("fallback")
		return FallbackClassification()
	}
	s.metrics.RecordClassification("classified")
	return result
}

func (s *ClassifierService) requestClassification(ctx context.Context, text string) (Classification, error) {
	payload := chatCompletionRequest{
		Model: s.model,
		Messages: []chatCompletionMsg{
			{Role: "user", Content: fmt.Sprintf(classifyPrompt, text)},
		},
		ResponseFmt: &responseFormat{Type: "json_object"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Classification{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Classification{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return Classification{}, fmt.Errorf("call classifier: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classification{}, fmt.Errorf("read response: %w", err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Classification{}, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return Classification{}, fmt.Errorf("classifier error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return Classification{}, fmt.Errorf("classifier status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return Classification{}, fmt.Errorf("classifier returned no choices")
	}

	var result Classification
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	return result, nil
}
