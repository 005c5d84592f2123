package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
)

// PinataStore implements metadata.Store on the Pinata pinning API, reading
// documents back through an IPFS gateway.
type PinataStore struct {
	jwt        string
	apiURL     string
	gatewayURL string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ metadata.Store = (*PinataStore)(nil)

type pinJSONRequest struct {
	PinataOptions  pinataOptions      `json:"pinataOptions"`
	PinataMetadata pinataMetadata     `json:"pinataMetadata"`
	PinataContent  *metadata.Document `json:"pinataContent"`
}

type pinataOptions struct {
	CIDVersion int `json:"cidVersion"`
}

type pinataMetadata struct {
	Name string `json:"name"`
}

type pinJSONResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// NewPinataStore creates a store. apiURL is normally https://api.pinata.cloud
// and gatewayURL a prefix such as https://ipfs.io/ipfs/.
func NewPinataStore(jwt, apiURL, gatewayURL string, logger *slog.Logger) *PinataStore {
	if !strings.HasSuffix(gatewayURL, "/") {
		gatewayURL += "/"
	}
	return &PinataStore{
		jwt:        jwt,
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		gatewayURL: gatewayURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// TokenURI returns the gateway URL for a reference.
func (p *PinataStore) TokenURI(ref metadata.Ref) string {
	return p.gatewayURL + ref.String()
}

// Publish pins the document as JSON and returns its CID.
func (p *PinataStore) Publish(ctx context.Context, doc *metadata.Document) (metadata.Ref, error) {
	if err := doc.Validate(); err != nil {
		return "", err
	}

	body, err := json.Marshal(pinJSONRequest{
		PinataOptions:  pinataOptions{CIDVersion: 1},
		PinataMetadata: pinataMetadata{Name: pinName(doc.Name)},
		PinataContent:  doc,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/pinning/pinJSONToIPFS", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.jwt)

	respBody, err := p.do(req)
	if err != nil {
		return "", fmt.Errorf("pin json: %w", err)
	}

	var pinned pinJSONResponse
	if err := json.Unmarshal(respBody, &pinned); err != nil {
		return "", fmt.Errorf("failed to parse pin response: %w", err)
	}
	if pinned.IpfsHash == "" {
		return "", errors.New("pin response has no IpfsHash")
	}

	p.logger.Debug("Document pinned", "metadata_ref", pinned.IpfsHash, "size", pinned.PinSize)
	return metadata.Ref(pinned.IpfsHash), nil
}

// Fetch reads a document through the gateway.
func (p *PinataStore) Fetch(ctx context.Context, ref metadata.Ref) (*metadata.Document, error) {
	if ref.IsZero() {
		return nil, metadata.ErrNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.TokenURI(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := p.do(req)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", metadata.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}

	var doc metadata.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", ref, err)
	}
	return &doc, nil
}

// Release unpins a CID. An already-unpinned CID is not an error.
func (p *PinataStore) Release(ctx context.Context, ref metadata.Ref) error {
	if ref.IsZero() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.apiURL+"/pinning/unpin/"+ref.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.jwt)

	if _, err := p.do(req); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			p.logger.Debug("CID already unpinned", "metadata_ref", ref)
			return nil
		}
		return fmt.Errorf("unpin %s: %w", ref, err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.code, e.body)
}

func (p *PinataStore) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, body: readErrorBody(body)}
	}
	return body, nil
}

func pinName(name string) string {
	if name == "" {
		return "character.json"
	}
	return strings.ToLower(strings.ReplaceAll(name, " ", "-")) + ".json"
}
