package segmentation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

func historyWith(now time.Time, visits int, spendEach int64) models.CustomerHistory {
	h := models.CustomerHistory{}
	for i := 0; i < visits; i++ {
		h.Visits = append(h.Visits, models.Visit{
			VisitedAt: now.AddDate(0, 0, -(i + 1)),
			Amount:    decimal.NewFromInt(spendEach),
		})
	}
	return h
}

func TestComputeVIPThresholds_Percentile(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	settings := models.DefaultSegmentationSettings()
	settings.VIPPercentile = 90
	settings.VIPMinPopulation = 5

	var histories []models.CustomerHistory
	for i := 1; i <= 10; i++ {
		histories = append(histories, historyWith(now, i, 10))
	}
	// inactive for more than a year, excluded from the population
	histories = append(histories, models.CustomerHistory{Visits: []models.Visit{
		{VisitedAt: now.AddDate(-2, 0, 0), Amount: decimal.NewFromInt(100000)},
	}})

	th := ComputeVIPThresholds(histories, now, settings)

	assert.False(t, th.Fallback)
	assert.Equal(t, 10, th.Population)
	assert.Equal(t, 9, th.Visits)
	assert.True(t, decimal.NewFromInt(90).Equal(th.Spend))
}

func TestComputeVIPThresholds_FallbackForSmallPopulation(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	settings := models.DefaultSegmentationSettings()

	th := ComputeVIPThresholds([]models.CustomerHistory{historyWith(now, 3, 20)}, now, settings)

	assert.True(t, th.Fallback)
	assert.Equal(t, 1, th.Population)
	assert.Equal(t, settings.VIPFallbackVisits, th.Visits)
	assert.True(t, settings.VIPFallbackSpend.Equal(th.Spend))
}

func TestVIPThresholds_IsVIP(t *testing.T) {
	th := VIPThresholds{Spend: decimal.NewFromInt(500), Visits: 10}

	assert.True(t, th.IsVIP(decimal.NewFromInt(500), 1))
	assert.True(t, th.IsVIP(decimal.Zero, 10))
	assert.False(t, th.IsVIP(decimal.NewFromInt(499), 9))
	assert.False(t, th.IsVIP(decimal.NewFromInt(9999), 0), "no recent visit")
}

func TestNearestRank(t *testing.T) {
	assert.Equal(t, 0, nearestRank(1, 10))
	assert.Equal(t, 8, nearestRank(90, 10))
	assert.Equal(t, 9, nearestRank(100, 10))
	assert.Equal(t, 0, nearestRank(50, 1))
}
