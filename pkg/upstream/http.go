package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
)

// HTTPProvider talks to a bridge service that performs the provider-specific
// login and scraping. The bridge exposes one endpoint per operation.
type HTTPProvider struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPProvider creates a bridge-backed provider. token, when set, is sent
// as a bearer credential.
func NewHTTPProvider(name, baseURL, token string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPProvider) Name() string { return h.name }

type bridgeRequest struct {
	AccountID   int64             `json:"account_id"`
	UserID      int64             `json:"user_id"`
	Phone       string            `json:"phone"`
	Credentials model.Credentials `json:"credentials"`
}

type refreshResponse struct {
	Success     bool               `json:"success"`
	Message     string             `json:"message"`
	Credentials *model.Credentials `json:"credentials"`
}

func (h *HTTPProvider) QueryFlow(ctx context.Context, account model.MonitoredAccount) (*model.QueryResult, error) {
	start := time.Now()
	status, body, err := h.post(ctx, account, "flow")
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &model.QueryResult{
			Success:   false,
			Code:      strconv.Itoa(status),
			Message:   strings.TrimSpace(string(body)),
			AuthError: true,
		}, nil
	case status < 200 || status >= 300:
		return nil, fmt.Errorf("%s bridge returned status %d", h.name, status)
	}

	var result model.QueryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode %s flow response: %w", h.name, err)
	}
	if result.QueryTime == 0 {
		result.QueryTime = time.Since(start).Seconds()
	}
	return &result, nil
}

func (h *HTTPProvider) RefreshAuth(ctx context.Context, account model.MonitoredAccount) (*model.Credentials, error) {
	status, body, err := h.post(ctx, account, "refresh")
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%s bridge returned status %d", h.name, status)
	}

	var resp refreshResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode %s refresh response: %w", h.name, err)
	}
	if !resp.Success || resp.Credentials == nil {
		msg := resp.Message
		if msg == "" {
			msg = "no credentials returned"
		}
		return nil, fmt.Errorf("%s refresh failed: %s", h.name, msg)
	}
	return resp.Credentials, nil
}

func (h *HTTPProvider) post(ctx context.Context, account model.MonitoredAccount, op string) (int, []byte, error) {
	payload, err := json.Marshal(bridgeRequest{
		AccountID:   account.ID,
		UserID:      account.UserID,
		Phone:       account.Phone,
		Credentials: account.Credentials,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("marshal %s request: %w", op, err)
	}

	url := fmt.Sprintf("%s/v1/accounts/%d/%s", h.baseURL, account.ID, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Flow-Guardian/1.0")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s request: %w", h.name, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", op, err)
	}
	return resp.StatusCode, body, nil
}
