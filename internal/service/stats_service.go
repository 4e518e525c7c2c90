package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicdesk/civicdesk-api/internal/models"
)

type statsSnapshotProvider interface {
	Snapshot(ctx context.Context) ([]models.Complaint, error)
}

// NoDataSentinel is rendered when an aggregate has nothing to average.
const NoDataSentinel = "N/A"

// StatsServiceConfig tunes stats caching.
type StatsServiceConfig struct {
	CacheTTL time.Duration
}

// StatsService derives the dashboard and public aggregates from the current
// complaint snapshot. All computations are pure functions of the list; the
// service only adds caching on top.
type StatsService struct {
	snapshots statsSnapshotProvider
	cache     *CacheService
	logger    *zap.Logger
	cfg       StatsServiceConfig
}

// NewStatsService constructs the aggregation service.
func NewStatsService(snapshots statsSnapshotProvider, cache *CacheService, logger *zap.Logger, cfg StatsServiceConfig) *StatsService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{snapshots: snapshots, cache: cache, logger: logger, cfg: cfg}
}

// Dashboard returns the staff aggregate and whether it came from cache.
func (s *StatsService) Dashboard(ctx context.Context) (*models.DashboardStats, bool, error) {
	const cacheKey = "stats:dashboard"
	if s.cache != nil {
		var cached models.DashboardStats
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	complaints, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	stats := ComputeDashboardStats(complaints)

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, stats, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache dashboard stats", zap.Error(err))
		}
	}
	return &stats, false, nil
}

// Public returns the read-only public aggregate and whether it came from cache.
func (s *StatsService) Public(ctx context.Context) (*models.PublicStats, bool, error) {
	const cacheKey = "stats:public"
	if s.cache != nil {
		var cached models.PublicStats
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	complaints, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	stats := ComputePublicStats(complaints)

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, stats, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache public stats", zap.Error(err))
		}
	}
	return &stats, false, nil
}

// ComputeDashboardStats derives the staff dashboard aggregate from an
// arbitrary snapshot, including the empty one.
func ComputeDashboardStats(complaints []models.Complaint) models.DashboardStats {
	stats := models.DashboardStats{
		Total:             len(complaints),
		BusiestDepartment: NoDataSentinel,
		AvgResolutionTime: AverageResolutionTime(complaints),
		ByCategory:        []models.CountBucket{},
		ByStatus:          statusBreakdown(complaints),
	}

	categories := newBucketSet()
	departments := newBucketSet()
	for i := range complaints {
		c := &complaints[i]
		if c.Status.Open() {
			stats.Open++
		} else {
			stats.Resolved++
		}
		if c.Urgency != nil && *c.Urgency == models.UrgencyHigh {
			stats.HighUrgency++
		}
		if c.Category != nil {
			categories.add(string(*c.Category))
		}
		if c.Department != nil {
			departments.add(string(*c.Department))
		}
	}

	stats.ByCategory = categories.buckets()
	stats.ByDepartment = departments.buckets()
	if busiest, ok := departments.busiest(); ok {
		stats.BusiestDepartment = busiest
	}
	return stats
}

// ComputePublicStats derives the public aggregate from an arbitrary snapshot.
func ComputePublicStats(complaints []models.Complaint) models.PublicStats {
	stats := models.PublicStats{
		Total:             len(complaints),
		AvgResolutionTime: AverageResolutionTime(complaints),
		ByStatus:          statusBreakdown(complaints),
	}

	departments := newBucketSet()
	for i := range complaints {
		c := &complaints[i]
		if c.Status.Open() {
			stats.Open++
		} else {
			stats.Resolved++
		}
		if c.Department != nil {
			departments.add(string(*c.Department))
		}
	}
	stats.ByDepartment = departments.buckets()
	return stats
}

// AverageResolutionTime averages, over resolved and closed complaints, the
// span between the first "Submitted" audit entry and the last entry whose
// action mentions Resolved or Closed. Complaints missing either marker, or
// with a negative span, are excluded rather than clamped. The result renders
// in hours below one day, days with one decimal above.
func AverageResolutionTime(complaints []models.Complaint) string {
	totalHours := 0
	counted := 0

	for i := range complaints {
		c := &complaints[i]
		if c.Status.Open() {
			continue
		}
		submitted, ok := firstSubmittedEntry(c.AuditLog)
		if !ok {
			continue
		}
		resolved, ok := lastResolutionEntry(c.AuditLog)
		if !ok {
			continue
		}
		hours := int(resolved.Timestamp.Sub(submitted.Timestamp).Hours())
		if hours < 0 {
			continue
		}
		totalHours += hours
		counted++
	}

	if counted == 0 {
		return NoDataSentinel
	}

	avgHours := float64(totalHours) / float64(counted)
	if avgHours < 24 {
		return fmt.Sprintf("%.1f hours", avgHours)
	}
	return fmt.Sprintf("%.1f days", avgHours/24)
}

func firstSubmittedEntry(log models.AuditLog) (models.AuditLogEntry, bool) {
	for _, entry := range log {
		if entry.Action == "Submitted" {
			return entry, true
		}
	}
	return models.AuditLogEntry{}, false
}

func lastResolutionEntry(log models.AuditLog) (models.AuditLogEntry, bool) {
	for i := len(log) - 1; i >= 0; i-- {
		action := log[i].Action
		if strings.Contains(action, string(models.StatusResolved)) || strings.Contains(action, string(models.StatusClosed)) {
			return log[i], true
		}
	}
	return models.AuditLogEntry{}, false
}

func statusBreakdown(complaints []models.Complaint) []models.CountBucket {
	counts := make(map[models.Status]int, len(complaints))
	for i := range complaints {
		counts[complaints[i].Status]++
	}
	statuses := models.AllStatuses()
	buckets := make([]models.CountBucket, 0, len(statuses))
	for _, status := range statuses {
		buckets = append(buckets, models.CountBucket{Name: string(status), Count: counts[status]})
	}
	return buckets
}

// bucketSet counts grouped values preserving first-encounter order so that
// breakdowns and the busiest-department tie break are stable.
type bucketSet struct {
	order  []string
	counts map[string]int
}

func newBucketSet() *bucketSet {
	return &bucketSet{counts: map[string]int{}}
}

func (b *bucketSet) add(name string) {
	if _, seen := b.counts[name]; !seen {
		b.order = append(b.order, name)
	}
	b.counts[name]++
}

func (b *bucketSet) buckets() []models.CountBucket {
	buckets := make([]models.CountBucket, 0, len(b.order))
	for _, name := range b.order {
		buckets = append(buckets, models.CountBucket{Name: name, Count: b.counts[name]})
	}
	return buckets
}

func (b *bucketSet) busiest() (string, bool) {
	best := ""
	bestCount := 0
	for _, name := range b.order {
		if b.counts[name] > bestCount {
			best = name
			bestCount = b.counts[name]
		}
	}
	return best, best != ""
}
