package access

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrLedgerStatus = errors.New("unexpected ledger response status")

// EntitlementLedger answers whether an identity is enrolled in a
// course. Implementations are expected to hit the network and may fail;
// the gate treats any error as a denial.
type EntitlementLedger interface {
	CheckEnrollment(ctx context.Context, address string, courseID int64) (bool, error)
}

const defaultLedgerTimeout = 10 * time.Second

// HTTPLedger queries the external enrollment ledger over its HTTP
// verification endpoint.
type HTTPLedger struct {
	client *http.Client
	url    string
}

func NewHTTPLedger(url string) *HTTPLedger {
	return &HTTPLedger{
		client: &http.Client{Timeout: defaultLedgerTimeout},
		url:    url,
	}
}

type enrollmentQuery struct {
	Student  string `json:"student"`
	CourseID int64  `json:"course_id"`
}

type enrollmentResult struct {
	Success bool `json:"success"`
}

func (hl *HTTPLedger) CheckEnrollment(ctx context.Context, address string, courseID int64) (bool, error) {
	body, err := json.Marshal(&enrollmentQuery{Student: address, CourseID: courseID})
	if err != nil {
		return false, fmt.Errorf("marshal enrollment query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hl.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hl.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("ledger query: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: %d", ErrLedgerStatus, resp.StatusCode)
	}

	var res enrollmentResult
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return false, fmt.Errorf("decode ledger response: %w", err)
	}
	return res.Success, nil
}
