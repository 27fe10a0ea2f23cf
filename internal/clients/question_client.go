package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"peerprep/matching/internal/models"
)

// QuestionClient fetches practice questions from the question service.
type QuestionClient struct {
	baseURL string
	http    *http.Client
}

func NewQuestionClient(baseURL string) *QuestionClient {
	return &QuestionClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// FetchQuestion asks the question service for one random question
// matching the given filters. Empty filters are omitted from the
// query. A 404 (no question for the filters) is an error; the caller
// decides whether to fall back to looser filters.
func (c *QuestionClient) FetchQuestion(ctx context.Context, difficulty, topic string) (*models.Question, error) {
	params := url.Values{}
	if difficulty != "" {
		params.Set("difficulty", difficulty)
	}
	if topic != "" {
		params.Set("topic", topic)
	}

	reqURL := fmt.Sprintf("%s/api/v1/questions/random?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build question request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call question service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("question service returned status %d", resp.StatusCode)
	}

	var question models.Question
	if err := json.NewDecoder(resp.Body).Decode(&question); err != nil {
		return nil, fmt.Errorf("decode question response: %w", err)
	}
	return &question, nil
}
