package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Skufu/lungtriage/internal/imaging"
	"github.com/Skufu/lungtriage/internal/triage"
)

type RemoteOptions struct {
	Disease triage.Disease
	Arity   int
	Input   imaging.InputSpec
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// Remote delegates inference to an HTTP model server that accepts
// {"disease", "shape", "input"} and answers {"output": [...]}.
type Remote struct {
	base
	url    string
	client *http.Client
}

type remoteRequest struct {
	Disease string    `json:"disease"`
	Shape   []int64   `json:"shape"`
	Input   []float32 `json:"input"`
}

type remoteResponse struct {
	Output []float32 `json:"output"`
	Error  string    `json:"error,omitempty"`
}

func NewRemote(opts RemoteOptions) (*Remote, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("remote classifier url is required")
	}
	if err := opts.Input.Validate(); err != nil {
		return nil, err
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Remote{
		base:   base{disease: opts.Disease, arity: opts.Arity, input: opts.Input},
		url:    opts.URL,
		client: client,
	}, nil
}

func (r *Remote) Predict(ctx context.Context, in imaging.Tensor) ([]float32, error) {
	body, err := json.Marshal(remoteRequest{Disease: r.disease.String(), Shape: in.Shape, Input: in.Data})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("inference failed: %s", out.Error)
	}
	return out.Output, nil
}

func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
