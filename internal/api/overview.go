package api

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/beeunity/beeunity/client/internal/models"
	"github.com/beeunity/beeunity/client/pkg/logger"
)

// LoadStatus is the per-piece outcome of an aggregated load.
type LoadStatus string

const (
	StatusReady LoadStatus = "ready"
	StatusEmpty LoadStatus = "empty"
	StatusFailed LoadStatus = "error"
)

// WardOverview is everything the dashboard shows for one ward.
type WardOverview struct {
	WardID         string                `json:"wardId"`
	Climate        *models.ClimateRecord `json:"climate"`
	ClimateStatus  LoadStatus            `json:"climateStatus"`
	Boundary       *models.Boundary      `json:"boundary"`
	BoundaryStatus LoadStatus            `json:"boundaryStatus"`
	Hives          []models.Hive         `json:"hives"`
	HivesStatus    LoadStatus            `json:"hivesStatus"`
}

// LoadWardOverview fetches climate, boundary and hives in parallel. Each
// piece fails on its own; only a denied session or a cancelled ctx fails the
// whole load, and then no partial result is returned.
func (c *Client) LoadWardOverview(ctx context.Context, wardID string) (*WardOverview, error) {
	ov := &WardOverview{WardID: wardID, Hives: []models.Hive{}}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rec, err := c.LatestClimate(gctx, wardID)
		if err != nil {
			ov.ClimateStatus = StatusFailed
			return fatal(err)
		}
		ov.Climate = rec
		ov.ClimateStatus = readyOrEmpty(rec != nil)
		return nil
	})
	g.Go(func() error {
		b, err := c.WardBoundary(gctx, wardID)
		if err != nil {
			ov.BoundaryStatus = StatusFailed
			return fatal(err)
		}
		ov.Boundary = b
		ov.BoundaryStatus = readyOrEmpty(len(b.Polygons) > 0)
		return nil
	})
	g.Go(func() error {
		hives, err := c.Hives(gctx)
		if err != nil {
			ov.HivesStatus = StatusFailed
			return fatal(err)
		}
		for _, h := range hives {
			if h.WardID == wardID {
				ov.Hives = append(ov.Hives, h)
			}
		}
		ov.HivesStatus = readyOrEmpty(len(ov.Hives) > 0)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ov, nil
}

// HiveHealth is the hive detail view.
type HiveHealth struct {
	HiveID         string              `json:"hiveId"`
	Status         *models.HiveStatus  `json:"status"`
	Inspections    []models.Inspection `json:"inspections"`
	Yields         []models.Yield      `json:"yields"`
	Alerts         []models.Alert      `json:"alerts"`
	LastInspection *models.Inspection  `json:"lastInspection"`
	LatestYield    *models.Yield       `json:"latestYield"`
}

// LoadHiveHealth fetches status, recent inspections, recent yields and
// active alerts in parallel. Individual failures leave that piece empty.
func (c *Client) LoadHiveHealth(ctx context.Context, hiveID string) (*HiveHealth, error) {
	hh := &HiveHealth{
		HiveID:      hiveID,
		Inspections: []models.Inspection{},
		Yields:      []models.Yield{},
		Alerts:      []models.Alert{},
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		st, err := c.HiveStatus(gctx, hiveID)
		if err != nil {
			return fatal(err)
		}
		hh.Status = st
		return nil
	})
	g.Go(func() error {
		in, err := c.Inspections(gctx, hiveID, 10)
		if err != nil {
			return fatal(err)
		}
		hh.Inspections = in
		return nil
	})
	g.Go(func() error {
		y, err := c.Yields(gctx, hiveID, 10)
		if err != nil {
			return fatal(err)
		}
		hh.Yields = y
		return nil
	})
	g.Go(func() error {
		a, err := c.Alerts(gctx, hiveID, "active")
		if err != nil {
			return fatal(err)
		}
		hh.Alerts = a
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if hh.Status != nil && hh.Status.LastInspection != nil {
		hh.LastInspection = hh.Status.LastInspection
	} else if len(hh.Inspections) > 0 {
		hh.LastInspection = &hh.Inspections[0]
	}
	if hh.Status != nil && hh.Status.LatestYield != nil {
		hh.LatestYield = hh.Status.LatestYield
	} else if len(hh.Yields) > 0 {
		hh.LatestYield = &hh.Yields[0]
	}
	return hh, nil
}

// fatal keeps only the errors that must abort an aggregated load.
func fatal(err error) error {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Debugf("api: partial load failure: %v", err)
	return nil
}

func readyOrEmpty(ok bool) LoadStatus {
	if ok {
		return StatusReady
	}
	return StatusEmpty
}
