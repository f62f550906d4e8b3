package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

func factorNames(a models.RiskAssessment) []string {
	names := make([]string, 0, len(a.Factors))
	for _, f := range a.Factors {
		names = append(names, f.Name)
	}
	return names
}

func TestScore_ScenarioC(t *testing.T) {
	// Saturday 21:00, party of 8, no history, booked five days ahead
	reservedFor := time.Date(2026, 10, 17, 21, 0, 0, 0, time.UTC)
	require.Equal(t, time.Saturday, reservedFor.Weekday())

	a := Score(Input{
		ReservedFor: reservedFor,
		BookedAt:    reservedFor.AddDate(0, 0, -5),
		PartySize:   8,
	}, models.DefaultRiskWeights(), time.UTC)

	assert.Equal(t, 45, a.Score)
	assert.Equal(t, models.RiskLevelLow, a.Level)
	assert.ElementsMatch(t, []string{FactorParty, FactorEdgeHour, FactorWeekday}, factorNames(a))
}

func TestScore_AllFactorsClampTo100(t *testing.T) {
	reservedFor := time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC) // sunday
	a := Score(Input{
		ReservedFor:    reservedFor,
		BookedAt:       reservedFor.Add(-30 * time.Minute),
		PartySize:      10,
		AdverseWeather: true,
		History:        models.NoShowStats{Reservations: 10, NoShows: 5},
	}, models.DefaultRiskWeights(), time.UTC)

	assert.Equal(t, 100, a.Score)
	assert.Equal(t, models.RiskLevelHigh, a.Level)
	assert.Len(t, a.Factors, 6)
}

func TestScore_HistoryTiers(t *testing.T) {
	weights := models.DefaultRiskWeights()
	// Tuesday 16:00, party of 2: only history contributes
	base := Input{ReservedFor: time.Date(2026, 10, 13, 16, 0, 0, 0, time.UTC), PartySize: 2}

	base.History = models.NoShowStats{Reservations: 10, NoShows: 4}
	assert.Equal(t, 40, Score(base, weights, time.UTC).Score)

	base.History = models.NoShowStats{Reservations: 10, NoShows: 2}
	assert.Equal(t, 25, Score(base, weights, time.UTC).Score)

	base.History = models.NoShowStats{Reservations: 20, NoShows: 3}
	assert.Equal(t, 0, Score(base, weights, time.UTC).Score, "exactly 15% is not above the threshold")
}

func TestScore_UsesRestaurantLocalTime(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	// 18:30 UTC is 20:30 in Madrid during summer time
	in := Input{ReservedFor: time.Date(2026, 7, 14, 18, 30, 0, 0, time.UTC), PartySize: 2}

	assert.Equal(t, 0, Score(in, models.DefaultRiskWeights(), time.UTC).Score)
	assert.Equal(t, 25, Score(in, models.DefaultRiskWeights(), madrid).Score)
}

func TestScore_SoloPartyAndLeadTime(t *testing.T) {
	reservedFor := time.Date(2026, 10, 14, 16, 0, 0, 0, time.UTC) // wednesday
	a := Score(Input{
		ReservedFor: reservedFor,
		BookedAt:    reservedFor.Add(-90 * time.Minute),
		PartySize:   1,
	}, models.DefaultRiskWeights(), nil)

	assert.Equal(t, 15, a.Score)
	assert.ElementsMatch(t, []string{FactorParty, FactorLeadTime}, factorNames(a))
}

func TestLevel_IsPureStepFunction(t *testing.T) {
	weights := models.DefaultRiskWeights()
	for score := 0; score <= 100; score++ {
		level := Level(score, weights)
		switch {
		case score >= 85:
			assert.Equal(t, models.RiskLevelHigh, level, "score %d", score)
		case score >= 65:
			assert.Equal(t, models.RiskLevelMedium, level, "score %d", score)
		default:
			assert.Equal(t, models.RiskLevelLow, level, "score %d", score)
		}
	}
}

func TestScore_Bounds(t *testing.T) {
	weights := models.DefaultRiskWeights()
	start := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	for h := 0; h < 24*7; h += 5 {
		for party := 1; party <= 12; party += 3 {
			a := Score(Input{
				ReservedFor:    start.Add(time.Duration(h) * time.Hour),
				BookedAt:       start,
				PartySize:      party,
				AdverseWeather: h%2 == 0,
				History:        models.NoShowStats{Reservations: 3, NoShows: h % 4},
			}, weights, time.UTC)
			assert.GreaterOrEqual(t, a.Score, 0)
			assert.LessOrEqual(t, a.Score, 100)
			assert.Equal(t, Level(a.Score, weights), a.Level)
		}
	}
}
