// Package segmentation derives recency, frequency and value features from a
// customer's visit history and classifies the customer into a lifecycle segment.
package segmentation

import (
	"math"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/shopspring/decimal"

	"github.com/gustausantin/La-ia-app-sub001/pkg/models"
)

const (
	day  = 24 * time.Hour
	year = 365 * day
)

// Inputs are the four values a segment is a function of.
type Inputs struct {
	RecencyDays    int
	AIVIDays       *float64
	VisitsTotal    int
	AccountAgeDays int
}

// Classify assigns a segment. First match wins:
//
//  1. nuevo when the customer has at most two visits and a young account
//  2. inactivo when recency reached DiasInactivoMin
//  3. activo when recency is within FactorActivo intervals
//  4. riesgo when recency is within FactorRiesgo intervals
//  5. inactivo otherwise
//
// Without an interval (fewer than two visits) only nuevo or inactivo apply.
func Classify(in Inputs, settings models.SegmentationSettings) models.Segment {
	if in.VisitsTotal <= 2 && in.AccountAgeDays <= settings.DiasNuevo {
		return models.SegmentNuevo
	}
	if in.RecencyDays >= settings.DiasInactivoMin {
		return models.SegmentInactivo
	}
	if in.AIVIDays == nil {
		return models.SegmentInactivo
	}

	recency := float64(in.RecencyDays)
	aivi := *in.AIVIDays
	switch {
	case recency <= settings.FactorActivo*aivi:
		return models.SegmentActivo
	case recency <= settings.FactorRiesgo*aivi:
		return models.SegmentRiesgo
	default:
		return models.SegmentInactivo
	}
}

// Compute derives the full feature snapshot for one customer.
func Compute(history models.CustomerHistory, now time.Time, settings models.SegmentationSettings, thresholds VIPThresholds) models.CustomerFeatures {
	visits := history.Visits
	accountAge := daysBetween(history.Customer.CreatedAt, now)

	features := models.CustomerFeatures{
		VisitsTotal:    len(visits),
		AccountAgeDays: accountAge,
		TotalSpent12m:  decimal.Zero,
		ComputedAt:     now,
	}

	cutoff := now.Add(-year)
	recent := ectolinq.Filter(visits, func(v models.Visit) bool {
		return v.VisitedAt.After(cutoff)
	})
	features.Visits12m = len(recent)
	for _, v := range recent {
		features.TotalSpent12m = features.TotalSpent12m.Add(v.Amount)
	}

	recency := accountAge
	if len(visits) > 0 {
		first, last := visitBounds(visits)
		recency = daysBetween(last, now)
		features.AIVIDays = averageInterval(first, last, len(visits))
	}
	features.RecencyDays = &recency

	features.Segment = Classify(Inputs{
		RecencyDays:    recency,
		AIVIDays:       features.AIVIDays,
		VisitsTotal:    features.VisitsTotal,
		AccountAgeDays: accountAge,
	}, settings)
	features.IsVIP = thresholds.IsVIP(features.TotalSpent12m, features.Visits12m)

	return features
}

func visitBounds(visits []models.Visit) (first, last time.Time) {
	first, last = visits[0].VisitedAt, visits[0].VisitedAt
	for _, v := range visits[1:] {
		if v.VisitedAt.Before(first) {
			first = v.VisitedAt
		}
		if v.VisitedAt.After(last) {
			last = v.VisitedAt
		}
	}
	return first, last
}

// averageInterval is the mean number of days between consecutive visits,
// never below one day. Undefined with fewer than two visits.
func averageInterval(first, last time.Time, n int) *float64 {
	if n < 2 {
		return nil
	}
	aivi := last.Sub(first).Hours() / 24 / float64(n-1)
	aivi = math.Max(1, math.Round(aivi*100)/100)
	return &aivi
}

func daysBetween(from, to time.Time) int {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / day)
}
