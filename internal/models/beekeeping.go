package models

import "strings"

// Ward is an administrative area used to aggregate climate and hives.
type Ward struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Subcounty string   `json:"subcounty,omitempty"`
	County    string   `json:"county,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Coordinate is a single boundary vertex.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Boundary is the ward outline as a list of polygons.
type Boundary struct {
	WardID   string         `json:"ward_id,omitempty"`
	Polygons [][]Coordinate `json:"polygons"`
}

// ClimateRecord is one day of ward climate data.
type ClimateRecord struct {
	WardID       string   `json:"ward_id,omitempty"`
	Date         string   `json:"date"`
	TempMean     *float64 `json:"temp_mean,omitempty"`
	RainfallMM   *float64 `json:"rainfall_mm,omitempty"`
	HumidityMean *float64 `json:"humidity_mean,omitempty"`
	NDVI         *float64 `json:"ndvi,omitempty"`
}

// ClimatePage wraps the /climate/daily response.
type ClimatePage struct {
	Records []ClimateRecord `json:"records"`
}

type Hive struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	WardID       string   `json:"ward_id"`
	WardName     string   `json:"ward_name,omitempty"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	HiveType     *string  `json:"hive_type"`
	HiveCapacity *int     `json:"hive_capacity"`
	HasSensor    bool     `json:"has_sensor"`
	SensorID     *string  `json:"sensor_id"`
	Notes        *string  `json:"notes"`
}

// HiveInput is the create/update payload for a hive.
type HiveInput struct {
	Name         string   `json:"name"`
	WardID       string   `json:"ward_id"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	HiveType     *string  `json:"hive_type"`
	HiveCapacity *int     `json:"hive_capacity"`
	HasSensor    bool     `json:"has_sensor"`
	SensorID     *string  `json:"sensor_id"`
	Notes        *string  `json:"notes"`
}

type Inspection struct {
	ID            string   `json:"id,omitempty"`
	HiveID        string   `json:"hive_id,omitempty"`
	QueenPresent  *bool    `json:"queen_present"`
	OccupancyRate *float64 `json:"occupancy_rate"`
	Notes         *string  `json:"notes"`
	Issues        *string  `json:"issues"`
	NextAction    *string  `json:"next_action"`
	InspectedAt   string   `json:"inspected_at,omitempty"`
}

type Yield struct {
	ID         string   `json:"id,omitempty"`
	HiveID     string   `json:"hive_id,omitempty"`
	YieldKG    *float64 `json:"yield_kg"`
	Source     string   `json:"source,omitempty"`
	Notes      *string  `json:"notes"`
	RecordedAt string   `json:"recorded_at,omitempty"`
}

type Alert struct {
	ID        string `json:"id"`
	HiveID    string `json:"hive_id,omitempty"`
	AlertType string `json:"alert_type"`
	Message   string `json:"message"`
	Severity  string `json:"severity,omitempty"`
	Status    string `json:"status,omitempty"`
}

// HiveStatus is the /hives/{id}/status summary.
type HiveStatus struct {
	HiveID         string      `json:"hive_id,omitempty"`
	LastInspection *Inspection `json:"last_inspection"`
	LatestYield    *Yield      `json:"latest_yield"`
	ActiveAlerts   int         `json:"active_alerts,omitempty"`
}

// BeekeeperProfile is the backend profile filled in during onboarding.
// Optional fields are pointers so a missing value differs from a zero one.
type BeekeeperProfile struct {
	FullName        *string  `json:"full_name"`
	PhoneNumber     *string  `json:"phone_number"`
	WardID          *string  `json:"ward_id"`
	WardName        *string  `json:"ward_name,omitempty"`
	HiveCount       *int     `json:"hive_count"`
	BeekeepingYears *int     `json:"beekeeping_years"`
	HiveType        *string  `json:"hive_type"`
	FarmSizeAcres   *float64 `json:"farm_size_acres"`
	HasSensors      bool     `json:"has_sensors"`
	PrimaryGoal     *string  `json:"primary_goal"`
}

// IsComplete reports whether every onboarding field is set. Strings must
// be non-blank; numbers count as set even when zero.
func (p *BeekeeperProfile) IsComplete() bool {
	if p == nil {
		return false
	}
	for _, s := range []*string{p.FullName, p.PhoneNumber, p.WardID, p.HiveType, p.PrimaryGoal} {
		if s == nil || strings.TrimSpace(*s) == "" {
			return false
		}
	}
	return p.HiveCount != nil && p.BeekeepingYears != nil && p.FarmSizeAcres != nil
}

// Missing lists the onboarding fields still required, in form order.
func (p *BeekeeperProfile) Missing() []string {
	if p == nil {
		p = &BeekeeperProfile{}
	}
	blank := func(s *string) bool { return s == nil || strings.TrimSpace(*s) == "" }
	var out []string
	if blank(p.FullName) {
		out = append(out, "full name")
	}
	if blank(p.PhoneNumber) {
		out = append(out, "phone number")
	}
	if blank(p.WardID) {
		out = append(out, "ward")
	}
	if p.HiveCount == nil {
		out = append(out, "hive count")
	}
	if p.BeekeepingYears == nil {
		out = append(out, "beekeeping years")
	}
	if blank(p.HiveType) {
		out = append(out, "hive type")
	}
	if p.FarmSizeAcres == nil {
		out = append(out, "farm size")
	}
	if blank(p.PrimaryGoal) {
		out = append(out, "primary goal")
	}
	return out
}
