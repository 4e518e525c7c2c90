package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdesk/civicdesk-api/internal/models"
)

func resolvedComplaint(dept models.Department, hours int) models.Complaint {
	submitted := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return models.Complaint{
		Status:     models.StatusResolved,
		Department: &dept,
		AuditLog: models.AuditLog{
			{Timestamp: submitted, Action: "Submitted"},
			{Timestamp: submitted.Add(time.Duration(hours) * time.Hour), Action: "Status changed to Resolved"},
		},
	}
}

func openComplaint(status models.Status, urgency models.Urgency, category models.Category, dept models.Department) models.Complaint {
	return models.Complaint{
		Status:     status,
		Urgency:    &urgency,
		Category:   &category,
		Department: &dept,
	}
}

func TestComputeDashboardStatsEmpty(t *testing.T) {
	stats := ComputeDashboardStats(nil)

	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0, stats.Open)
	assert.Equal(t, 0, stats.Resolved)
	assert.Equal(t, NoDataSentinel, stats.BusiestDepartment)
	assert.Equal(t, NoDataSentinel, stats.AvgResolutionTime)
	assert.Empty(t, stats.ByCategory)
	// Status breakdown is always zero-filled over the full lifecycle.
	require.Len(t, stats.ByStatus, len(models.AllStatuses()))
	for _, bucket := range stats.ByStatus {
		assert.Equal(t, 0, bucket.Count)
	}
}

func TestComputeDashboardStatsCounts(t *testing.T) {
	complaints := []models.Complaint{
		openComplaint(models.StatusClassified, models.UrgencyHigh, models.CategoryInfrastructure, models.DepartmentPublicWorks),
		openComplaint(models.StatusAssigned, models.UrgencyLow, models.CategoryService, models.DepartmentPublicWorks),
		resolvedComplaint(models.DepartmentUtilities, 12),
	}

	stats := ComputeDashboardStats(complaints)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Open)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.HighUrgency)
	assert.Equal(t, string(models.DepartmentPublicWorks), stats.BusiestDepartment)

	require.Len(t, stats.ByCategory, 2)
	assert.Equal(t, "Infrastructure", stats.ByCategory[0].Name)
	assert.Equal(t, 1, stats.ByCategory[0].Count)

	// Departments keep first-encounter order.
	require.Len(t, stats.ByDepartment, 2)
	assert.Equal(t, string(models.DepartmentPublicWorks), stats.ByDepartment[0].Name)
	assert.Equal(t, 2, stats.ByDepartment[0].Count)
	assert.Equal(t, string(models.DepartmentUtilities), stats.ByDepartment[1].Name)
}

func TestBusiestDepartmentTieBreaksOnFirstEncounter(t *testing.T) {
	complaints := []models.Complaint{
		openComplaint(models.StatusSubmitted, models.UrgencyLow, models.CategoryOther, models.DepartmentUtilities),
		openComplaint(models.StatusSubmitted, models.UrgencyLow, models.CategoryOther, models.DepartmentPublicWorks),
	}

	stats := ComputeDashboardStats(complaints)
	assert.Equal(t, string(models.DepartmentUtilities), stats.BusiestDepartment)
}

func TestAverageResolutionTimeUnderADay(t *testing.T) {
	complaints := []models.Complaint{
		resolvedComplaint(models.DepartmentGeneral, 4),
		resolvedComplaint(models.DepartmentGeneral, 8),
	}
	assert.Equal(t, "6.0 hours", AverageResolutionTime(complaints))
}

func TestAverageResolutionTimeOverADay(t *testing.T) {
	complaints := []models.Complaint{resolvedComplaint(models.DepartmentGeneral, 26)}
	assert.Equal(t, "1.1 days", AverageResolutionTime(complaints))
}

func TestAverageResolutionTimeSkipsBrokenTrails(t *testing.T) {
	noSubmitted := models.Complaint{
		Status: models.StatusClosed,
		AuditLog: models.AuditLog{
			{Timestamp: time.Now(), Action: "Status changed to Closed"},
		},
	}
	negativeSpan := resolvedComplaint(models.DepartmentGeneral, -5)
	stillOpen := openComplaint(models.StatusInProgress, models.UrgencyLow, models.CategoryOther, models.DepartmentGeneral)

	assert.Equal(t, NoDataSentinel, AverageResolutionTime([]models.Complaint{noSubmitted, negativeSpan, stillOpen}))
}

func TestAverageResolutionTimeUsesLastResolutionEntry(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	dept := models.DepartmentGeneral
	reopened := models.Complaint{
		Status:     models.StatusClosed,
		Department: &dept,
		AuditLog: models.AuditLog{
			{Timestamp: submitted, Action: "Submitted"},
			{Timestamp: submitted.Add(2 * time.Hour), Action: "Status changed to Resolved"},
			{Timestamp: submitted.Add(3 * time.Hour), Action: "Status changed to In Progress"},
			{Timestamp: submitted.Add(10 * time.Hour), Action: "Status changed to Closed"},
		},
	}
	assert.Equal(t, "10.0 hours", AverageResolutionTime([]models.Complaint{reopened}))
}

type staticSnapshots struct {
	complaints []models.Complaint
}

func (s *staticSnapshots) Snapshot(context.Context) ([]models.Complaint, error) {
	return s.complaints, nil
}

func TestPublicStatsOmitCategoryBreakdown(t *testing.T) {
	snapshots := &staticSnapshots{complaints: []models.Complaint{
		openComplaint(models.StatusSubmitted, models.UrgencyHigh, models.CategorySafety, models.DepartmentPublicWorks),
		resolvedComplaint(models.DepartmentUtilities, 30),
	}}
	svc := NewStatsService(snapshots, nil, nil, StatsServiceConfig{})

	stats, cached, err := svc.Public(context.Background())
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, "1.2 days", stats.AvgResolutionTime)
	assert.Len(t, stats.ByDepartment, 2)
}
