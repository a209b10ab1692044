package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HTTPVerifier delegates credential checks to an external identity service.
type HTTPVerifier struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPVerifier は新しいHTTPVerifierを作成
func NewHTTPVerifier(endpoint string) *HTTPVerifier {
	return &HTTPVerifier{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Verify returns the subject for a valid credential, nil for an invalid one,
// and an error only when the identity service itself is unreachable.
func (v *HTTPVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := v.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var body struct {
		SubjectID string `json:"subject_id"`
		Email     string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.SubjectID == "" {
		return nil, nil
	}
	return &Identity{SubjectID: body.SubjectID, Email: body.Email}, nil
}

// DenyAllVerifier rejects every credential. Used when no identity service
// is configured, leaving only guest access.
type DenyAllVerifier struct{}

func (DenyAllVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	return nil, nil
}
