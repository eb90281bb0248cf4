package locate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fieldsync/anchor/internal/geo"
	"github.com/fieldsync/anchor/pkg/core"
)

// HTTPSource asks a companion positioning endpoint (typically the phone the
// photographer carries) for its current fix.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// positionResponse is the JSON body of GET /position.
type positionResponse struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Timestamp int64    `json:"timestamp"` // unix millis of the fix; 0 if unknown
}

// NewHTTPSource creates a new HTTP position source.
func NewHTTPSource(baseURL, apiKey string) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Per-request deadlines come from the tier context.
		httpClient: &http.Client{},
		now:        time.Now,
	}
}

// Healthcheck checks if the positioning endpoint is reachable.
func (s *HTTPSource) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// CurrentPosition implements Source.
func (s *HTTPSource) CurrentPosition(ctx context.Context, r Request) (core.Coordinate, error) {
	q := url.Values{}
	q.Set("highAccuracy", strconv.FormatBool(r.HighAccuracy))
	q.Set("maximumAge", strconv.FormatInt(r.MaxCacheAge.Milliseconds(), 10))
	q.Set("timeout", strconv.FormatInt(r.Timeout.Milliseconds(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/position?"+q.Encode(), nil)
	if err != nil {
		return core.Coordinate{}, fmt.Errorf("failed to create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return core.Coordinate{}, NewPositionError(Timeout, err)
		}
		return core.Coordinate{}, NewPositionError(PositionUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.Coordinate{}, NewPositionError(PermissionDenied, fmt.Errorf("position endpoint returned status %d", resp.StatusCode))
	case http.StatusNotFound, http.StatusServiceUnavailable:
		return core.Coordinate{}, NewPositionError(PositionUnavailable, fmt.Errorf("position endpoint returned status %d", resp.StatusCode))
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return core.Coordinate{}, NewPositionError(Timeout, fmt.Errorf("position endpoint returned status %d", resp.StatusCode))
	default:
		return core.Coordinate{}, fmt.Errorf("position endpoint returned status %d", resp.StatusCode)
	}

	var body positionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.Coordinate{}, NewPositionError(PositionUnavailable, fmt.Errorf("failed to decode position: %w", err))
	}

	if body.Timestamp > 0 {
		age := s.now().Sub(time.UnixMilli(body.Timestamp))
		if age > r.MaxCacheAge {
			return core.Coordinate{}, NewPositionError(PositionUnavailable, fmt.Errorf("fix is %s old, max %s", age.Round(time.Millisecond), r.MaxCacheAge))
		}
	}

	coord := core.Coordinate{Latitude: body.Latitude, Longitude: body.Longitude, Accuracy: body.Accuracy}
	if err := geo.Validate(coord); err != nil {
		return core.Coordinate{}, NewPositionError(PositionUnavailable, err)
	}
	return coord, nil
}
