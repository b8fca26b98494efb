package service

import (
	"math"

	"github.com/AnTengye/contractrisk/model"
)

// AggregateRisk returns the mean clause score rounded to two decimals, or 0
// when there are no clauses. Ties round half to even, so a mean of 1.125
// becomes 1.12 and 1.375 becomes 1.38.
func AggregateRisk(clauses []model.Clause) float64 {
	if len(clauses) == 0 {
		return 0
	}
	total := 0
	for _, c := range clauses {
		total += c.RiskScore
	}
	mean := float64(total) / float64(len(clauses))
	return math.RoundToEven(mean*100) / 100
}
