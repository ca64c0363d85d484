// Package replicate adapts the Replicate SDK to the relay's Predictor.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	r8 "github.com/replicate/replicate-go"

	"github.com/example/ssam-replicate/internal/model"
)

// ErrMissingToken is returned by every remote call when no API token was
// configured. It is not checked at startup so dry runs keep working.
var ErrMissingToken = errors.New("replicate api token is not configured")

// PredictionError is a prediction that finished without succeeding.
type PredictionError struct {
	ID     string
	Status string
	Detail string
}

func (e *PredictionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("prediction %s %s", e.ID, e.Status)
	}
	return fmt.Sprintf("prediction %s %s: %s", e.ID, e.Status, e.Detail)
}

type Client struct {
	r8  *r8.Client
	err error
}

func New(token, baseURL string) *Client {
	token = strings.TrimSpace(token)
	if token == "" {
		return &Client{err: ErrMissingToken}
	}
	opts := []r8.ClientOption{r8.WithToken(token)}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, r8.WithBaseURL(baseURL))
	}
	c, err := r8.NewClient(opts...)
	if err != nil {
		return &Client{err: fmt.Errorf("init replicate client: %w", err)}
	}
	return &Client{r8: c}
}

// Predict creates a prediction for a model version and waits for it to finish.
func (c *Client) Predict(ctx context.Context, version string, input map[string]any) (model.Prediction, error) {
	if c.err != nil {
		return model.Prediction{}, c.err
	}
	p, err := c.r8.CreatePrediction(ctx, version, r8.PredictionInput(input), nil, false)
	if err != nil {
		return model.Prediction{}, fmt.Errorf("create prediction: %w", err)
	}
	if err := c.await(ctx, p); err != nil {
		return model.Prediction{}, err
	}
	return model.Prediction{
		ID:     p.ID,
		Output: OutputURLs(p.Output),
		Record: p,
	}, nil
}

// Run runs a model reference ("owner/name" or "owner/name:version") and
// returns only its output URLs. References without a version go through
// the model's predictions endpoint.
func (c *Client) Run(ctx context.Context, ref string, input map[string]any) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	id, err := r8.ParseIdentifier(ref)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", ref, err)
	}

	var p *r8.Prediction
	if id.Version == nil {
		p, err = c.r8.CreatePredictionWithModel(ctx, id.Owner, id.Name, r8.PredictionInput(input), nil, false)
	} else {
		p, err = c.r8.CreatePrediction(ctx, *id.Version, r8.PredictionInput(input), nil, false)
	}
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", ref, err)
	}
	if err := c.await(ctx, p); err != nil {
		return nil, err
	}
	return OutputURLs(p.Output), nil
}

// await waits for p to reach a terminal status. Anything but success is a
// *PredictionError.
func (c *Client) await(ctx context.Context, p *r8.Prediction) error {
	if err := c.r8.Wait(ctx, p); err != nil {
		return fmt.Errorf("wait for prediction %s: %w", p.ID, err)
	}
	switch status := strings.ToLower(string(p.Status)); status {
	case "failed", "canceled":
		detail := ""
		if p.Error != nil {
			detail = fmt.Sprint(p.Error)
		}
		return &PredictionError{ID: p.ID, Status: status, Detail: detail}
	}
	return nil
}

// OutputURLs flattens a prediction output into a list of URLs.
// A single string becomes a one-element list; non-string items are dropped.
func OutputURLs(output any) []string {
	switch v := output.(type) {
	case nil:
		return []string{}
	case string:
		return []string{v}
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
