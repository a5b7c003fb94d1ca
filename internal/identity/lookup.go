package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/roach88/sprinkler/internal/ledger"
)

// maxLookupBytes caps the owner lookup response size.
const maxLookupBytes = 1 << 20

// OwnedPlant is one entry of the owner lookup response.
type OwnedPlant struct {
	Mint ledger.PublicKey `json:"mint"`
	Name string           `json:"name"`
}

// OwnerLookup queries an HTTP endpoint for the plants a wallet owns:
//
//	GET <endpoint>?owner=<base58 wallet>  ->  [{"mint": "...", "name": "..."}]
type OwnerLookup struct {
	endpoint   *url.URL
	httpClient *http.Client
}

// NewOwnerLookup creates an OwnerLookup. A nil httpClient uses
// http.DefaultClient.
func NewOwnerLookup(endpoint string, httpClient *http.Client) (*OwnerLookup, error) {
	if endpoint == "" {
		return nil, errors.New("identity: owner lookup URL is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid owner lookup URL %q: %w", endpoint, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("identity: owner lookup URL %q must be http or https", endpoint)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OwnerLookup{endpoint: parsed, httpClient: httpClient}, nil
}

// OwnedPlants returns the plants owned by owner, in response order.
func (l *OwnerLookup) OwnedPlants(ctx context.Context, owner ledger.PublicKey) ([]OwnedPlant, error) {
	target := *l.endpoint
	query := target.Query()
	query.Set("owner", owner.String())
	target.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("identity: building owner lookup request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := l.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("identity: owner lookup: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxLookupBytes))
	if err != nil {
		return nil, fmt.Errorf("identity: reading owner lookup response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity: owner lookup returned %s", response.Status)
	}

	var plants []OwnedPlant
	if err := json.Unmarshal(body, &plants); err != nil {
		return nil, fmt.Errorf("identity: malformed owner lookup response: %w", err)
	}
	return plants, nil
}
