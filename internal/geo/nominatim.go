package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	nominatimURL     = "https://nominatim.openstreetmap.org"
	defaultUserAgent = "spigell/intern-allocator (geocoder)"
)

// Nominatim resolves addresses with the OpenStreetMap search API.
type Nominatim struct {
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func NewNominatim(logger *zap.Logger) *Nominatim {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Nominatim{
		logger:    logger,
		APIURL:    nominatimURL,
		UserAgent: defaultUserAgent,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Coordinates returns the first match for the address or nil.
func (n *Nominatim) Coordinates(ctx context.Context, address string) *Point {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}

	point, err := n.search(ctx, address)
	if err != nil {
		n.logger.Warn("geocoding failed", zap.String("address", address), zap.Error(err))
		return nil
	}
	if point == nil {
		n.logger.Debug("address not found", zap.String("address", address))
	}

	return point
}

func (n *Nominatim) search(ctx context.Context, address string) (*Point, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(n.APIURL, "/")+"/search", nil)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("q", address)
	req.URL.RawQuery = q.Encode()

	req.Header.Set("User-Agent", n.UserAgent)
	req.Header.Set("Accept", "application/json")

	n.logger.Debug("make request", zap.String("url", req.URL.String()))
	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(data, &places); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(places) == 0 {
		return nil, nil
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("parse latitude %q: %w", places[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("parse longitude %q: %w", places[0].Lon, err)
	}

	return &Point{Lat: lat, Lon: lon}, nil
}
