package models

// CountBucket is one labelled slice of a breakdown.
type CountBucket struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DashboardStats is the staff dashboard snapshot aggregate.
type DashboardStats struct {
	Total             int           `json:"total"`
	Open              int           `json:"open"`
	Resolved          int           `json:"resolved"`
	HighUrgency       int           `json:"high_urgency"`
	BusiestDepartment string        `json:"busiest_department"`
	AvgResolutionTime string        `json:"avg_resolution_time"`
	ByCategory        []CountBucket `json:"by_category"`
	ByDepartment      []CountBucket `json:"by_department"`
	ByStatus          []CountBucket `json:"by_status"`
}

// PublicStats is the read-only public analytics view.
type PublicStats struct {
	Total             int           `json:"total"`
	Open              int           `json:"open"`
	Resolved          int           `json:"resolved"`
	AvgResolutionTime string        `json:"avg_resolution_time"`
	ByDepartment      []CountBucket `json:"by_department"`
	ByStatus          []CountBucket `json:"by_status"`
}
