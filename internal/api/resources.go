package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/beeunity/beeunity/client/internal/models"
)

// Wards lists the wards. The backend answers either a bare array or
// {"wards": [...]}.
func (c *Client) Wards(ctx context.Context) ([]models.Ward, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/locations/wards", nil, nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return []models.Ward{}, nil
	}
	var wards []models.Ward
	if err := json.Unmarshal(raw, &wards); err == nil {
		return nonNil(wards), nil
	}
	var wrapped struct {
		Wards []models.Ward `json:"wards"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return []models.Ward{}, nil
	}
	return nonNil(wrapped.Wards), nil
}

func (c *Client) WardBoundary(ctx context.Context, wardID string) (*models.Boundary, error) {
	var b models.Boundary
	q := url.Values{"ward_id": {wardID}}
	if err := c.do(ctx, http.MethodGet, "/locations/wards/boundary", q, nil, &b); err != nil {
		return nil, err
	}
	b.WardID = wardID
	if b.Polygons == nil {
		b.Polygons = [][]models.Coordinate{}
	}
	return &b, nil
}

// LatestClimate returns the most recent daily record, or nil when the ward
// has none.
func (c *Client) LatestClimate(ctx context.Context, wardID string) (*models.ClimateRecord, error) {
	var page models.ClimatePage
	q := url.Values{"limit": {"1"}, "ward_id": {wardID}}
	if err := c.do(ctx, http.MethodGet, "/climate/daily", q, nil, &page); err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		return nil, nil
	}
	return &page.Records[0], nil
}

func (c *Client) Hives(ctx context.Context) ([]models.Hive, error) {
	var hives []models.Hive
	if err := c.do(ctx, http.MethodGet, "/hives", nil, nil, &hives); err != nil {
		return nil, err
	}
	return nonNil(hives), nil
}

func (c *Client) CreateHive(ctx context.Context, in models.HiveInput) (*models.Hive, error) {
	var h models.Hive
	if err := c.do(ctx, http.MethodPost, "/hives", nil, in, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) UpdateHive(ctx context.Context, id string, in models.HiveInput) (*models.Hive, error) {
	var h models.Hive
	if err := c.do(ctx, http.MethodPut, "/hives/"+url.PathEscape(id), nil, in, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) DeleteHive(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/hives/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) HiveStatus(ctx context.Context, hiveID string) (*models.HiveStatus, error) {
	var st models.HiveStatus
	if err := c.do(ctx, http.MethodGet, hivePath(hiveID, "status"), nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Inspections(ctx context.Context, hiveID string, limit int) ([]models.Inspection, error) {
	var out []models.Inspection
	if err := c.do(ctx, http.MethodGet, hivePath(hiveID, "inspections"), limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *Client) CreateInspection(ctx context.Context, hiveID string, in models.Inspection) (*models.Inspection, error) {
	var out models.Inspection
	if err := c.do(ctx, http.MethodPost, hivePath(hiveID, "inspections"), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Yields(ctx context.Context, hiveID string, limit int) ([]models.Yield, error) {
	var out []models.Yield
	if err := c.do(ctx, http.MethodGet, hivePath(hiveID, "yields"), limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *Client) CreateYield(ctx context.Context, hiveID string, in models.Yield) (*models.Yield, error) {
	if in.Source == "" {
		in.Source = "manual"
	}
	var out models.Yield
	if err := c.do(ctx, http.MethodPost, hivePath(hiveID, "yields"), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Alerts lists a hive's alerts filtered by status ("active" when empty).
func (c *Client) Alerts(ctx context.Context, hiveID, status string) ([]models.Alert, error) {
	if status == "" {
		status = "active"
	}
	var out []models.Alert
	if err := c.do(ctx, http.MethodGet, hivePath(hiveID, "alerts"), url.Values{"status": {status}}, nil, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *Client) ResolveAlert(ctx context.Context, hiveID, alertID string) error {
	return c.do(ctx, http.MethodPost, hivePath(hiveID, "alerts", url.PathEscape(alertID), "resolve"), nil, nil, nil)
}

// Profile returns the beekeeper profile. A missing profile is ErrNotFound.
func (c *Client) Profile(ctx context.Context) (*models.BeekeeperProfile, error) {
	var p *models.BeekeeperProfile
	if err := c.do(ctx, http.MethodGet, "/profile", nil, nil, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Client) SubmitOnboarding(ctx context.Context, p models.BeekeeperProfile) (*models.BeekeeperProfile, error) {
	var out *models.BeekeeperProfile
	if err := c.do(ctx, http.MethodPost, "/profile/onboarding", nil, p, &out); err != nil {
		return nil, err
	}
	c.session.SetNeedsOnboarding(!out.IsComplete())
	return out, nil
}

// ProfileStatus is the outcome of SyncProfile.
type ProfileStatus struct {
	Profile         *models.BeekeeperProfile `json:"profile"`
	NeedsOnboarding bool                     `json:"needsOnboarding"`
	Missing         []string                 `json:"missing,omitempty"`
}

// SyncProfile loads the backend profile and updates the session's
// needs-onboarding flag. A missing profile means onboarding is required.
func (c *Client) SyncProfile(ctx context.Context) (*ProfileStatus, error) {
	p, err := c.Profile(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	st := &ProfileStatus{Profile: p, NeedsOnboarding: !p.IsComplete()}
	if st.NeedsOnboarding {
		st.Missing = p.Missing()
	}
	c.session.SetNeedsOnboarding(st.NeedsOnboarding)
	return st, nil
}

func hivePath(hiveID string, parts ...string) string {
	p := "/hives/" + url.PathEscape(hiveID)
	for _, s := range parts {
		p += "/" + s
	}
	return p
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
