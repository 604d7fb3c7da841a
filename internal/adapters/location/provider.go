// Package location holds the black-box location boundary: best-effort
// coordinates from a pinned config value or a network lookup. The
// coordinator tolerates absence; a failed lookup only widens matching.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wisp-social/roomcore/internal/core"
	"github.com/wisp-social/roomcore/internal/domain"
)

// Static always answers with fixed coordinates. Used when a deployment
// serves one venue, and in tests.
type Static struct {
	fix core.LocationFix
}

func NewStatic(coords domain.Coordinates, city string) *Static {
	return &Static{fix: core.LocationFix{Coords: coords, City: city}}
}

func (s *Static) Locate(context.Context) (*core.LocationFix, error) {
	fix := s.fix
	return &fix, nil
}

// None never produces a fix; quick entry then matches without a
// distance filter.
type None struct{}

func (None) Locate(context.Context) (*core.LocationFix, error) {
	return nil, nil
}

// Network asks an IP-geolocation endpoint for an approximate position.
// The endpoint is expected to answer {"city":..,"lat":..,"lon":..}.
type Network struct {
	endpoint string
	client   *http.Client
}

func NewNetwork(endpoint string) *Network {
	return &Network{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *Network) Locate(ctx context.Context) (*core.LocationFix, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("location lookup: status %d", resp.StatusCode)
	}

	var body struct {
		City string  `json:"city"`
		Lat  float64 `json:"lat"`
		Lon  float64 `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("location lookup: %w", err)
	}
	return &core.LocationFix{
		Coords:      domain.Coordinates{Latitude: body.Lat, Longitude: body.Lon},
		City:        body.City,
		Approximate: true,
	}, nil
}

// Chain tries providers in order and returns the first fix. A provider
// erroring or answering nil just falls through to the next.
type Chain struct {
	providers []core.LocationProvider
}

func NewChain(providers ...core.LocationProvider) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Locate(ctx context.Context) (*core.LocationFix, error) {
	var lastErr error
	for _, p := range c.providers {
		fix, err := p.Locate(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if fix != nil {
			return fix, nil
		}
	}
	return nil, lastErr
}
