package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdesk/civicdesk-api/internal/models"
	"github.com/civicdesk/civicdesk-api/pkg/config"
)

func classifierResponse(t *testing.T, content string) []byte {
	t.Helper()
	payload := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

func TestClassifyWithoutAPIKeyFallsBack(t *testing.T) {
	svc := NewClassifierService(config.ClassifierConfig{}, nil)

	result := svc.Classify(context.Background(), "broken streetlight")
	assert.Equal(t, FallbackClassification(), result)
}

func TestClassifyParsesModelAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write(classifierResponse(t, `{"urgency":"High","category":"Safety","department":"Public Works"}`))
	}))
	defer server.Close()

	svc := NewClassifierService(config.ClassifierConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	}, nil)

	result := svc.Classify(context.Background(), "exposed power line near the school")
	assert.Equal(t, models.UrgencyHigh, result.Urgency)
	assert.Equal(t, models.CategorySafety, result.Category)
	assert.Equal(t, models.DepartmentPublicWorks, result.Department)
}

func TestClassifyFallsBackOnMalformedContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(classifierResponse(t, "sorry, I cannot help with that"))
	}))
	defer server.Close()

	svc := NewClassifierService(config.ClassifierConfig{BaseURL: server.URL, APIKey: "test-key"}, nil)

	result := svc.Classify(context.Background(), "noise complaint")
	assert.Equal(t, FallbackClassification(), result)
}

func TestClassifyFallsBackOnUnknownEnumValues(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(classifierResponse(t, `{"urgency":"Critical","category":"Safety","department":"Public Works"}`))
	}))
	defer server.Close()

	svc := NewClassifierService(config.ClassifierConfig{BaseURL: server.URL, APIKey: "test-key"}, nil)

	result := svc.Classify(context.Background(), "sinkhole on main street")
	assert.Equal(t, FallbackClassification(), result)
}

func TestClassifyFallsBackOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer server.Close()

	svc := NewClassifierService(config.ClassifierConfig{BaseURL: server.URL, APIKey: "test-key"}, nil)

	result := svc.Classify(context.Background(), "missed trash pickup")
	assert.Equal(t, FallbackClassification(), result)
}
