// Package risk scores upcoming reservations for no-show likelihood.
package risk

import (
	"fmt"
	"time"

	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

const MaxScore = 100

// Factor names recorded on a reservation's risk_factors.
const (
	FactorHistory  = "no_show_history"
	FactorEdgeHour = "edge_hour"
	FactorParty    = "party_size"
	FactorWeekday  = "day_of_week"
	FactorWeather  = "adverse_weather"
	FactorLeadTime = "short_lead_time"
)

// Input is what the scorer needs about one reservation.
type Input struct {
	ReservedFor    time.Time
	BookedAt       time.Time
	PartySize      int
	AdverseWeather bool
	History        models.NoShowStats
}

// InputFor builds the scorer input from a stored reservation.
func InputFor(r models.Reservation, history models.NoShowStats) Input {
	return Input{
		ReservedFor:    r.ReservedFor,
		BookedAt:       r.BookedAt,
		PartySize:      r.PartySize,
		AdverseWeather: r.AdverseWeather,
		History:        history,
	}
}

// Score adds up the independent factors and clamps the total to [0, 100].
// Hour and weekday are read in loc, the restaurant's local time.
func Score(in Input, weights models.RiskWeights, loc *time.Location) models.RiskAssessment {
	if loc == nil {
		loc = time.UTC
	}
	local := in.ReservedFor.In(loc)
	var factors []models.RiskFactor
	add := func(name string, points int, detail string) {
		if points > 0 {
			factors = append(factors, models.RiskFactor{Name: name, Points: points, Detail: detail})
		}
	}

	rate := in.History.Rate()
	switch {
	case rate > weights.HistoryHighRate:
		add(FactorHistory, weights.HistoryHighPoints, fmt.Sprintf("%.0f%% no-show rate", rate*100))
	case rate > weights.HistoryMedRate:
		add(FactorHistory, weights.HistoryMedPoints, fmt.Sprintf("%.0f%% no-show rate", rate*100))
	}

	if hour := local.Hour(); hour >= weights.LateHourFrom || hour <= weights.EarlyHourUntil {
		add(FactorEdgeHour, weights.EdgeHourPoints, fmt.Sprintf("%02d:00", hour))
	}

	switch {
	case in.PartySize >= weights.LargePartyMin:
		add(FactorParty, weights.LargePartyPoints, fmt.Sprintf("party of %d", in.PartySize))
	case in.PartySize == 1:
		add(FactorParty, weights.SoloPartyPoints, "party of 1")
	}

	switch local.Weekday() {
	case time.Sunday:
		add(FactorWeekday, weights.SundayPoints, "sunday")
	case time.Saturday:
		add(FactorWeekday, weights.SaturdayPoints, "saturday")
	}

	if in.AdverseWeather {
		add(FactorWeather, weights.WeatherPoints, "")
	}

	if !in.BookedAt.IsZero() {
		if lead := in.ReservedFor.Sub(in.BookedAt); lead >= 0 && lead < weights.ShortLeadTime {
			add(FactorLeadTime, weights.ShortLeadPoints, lead.Round(time.Minute).String())
		}
	}

	score := 0
	for _, f := range factors {
		score += f.Points
	}
	score = clamp(score)

	return models.RiskAssessment{
		Score:   score,
		Level:   Level(score, weights),
		Factors: factors,
	}
}

// Level maps a score onto its tier. It depends on nothing but the score and
// the configured cut-offs.
func Level(score int, weights models.RiskWeights) models.RiskLevel {
	switch {
	case score >= weights.HighThreshold:
		return models.RiskLevelHigh
	case score >= weights.MediumThreshold:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
