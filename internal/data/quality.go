// Package data provides data quality validation for price series.
// Checks for duplicate timestamps, non-positive closes, extreme moves between
// observations and sampling gaps.
package data

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/atlas-desktop/forecasting-studio/pkg/types"
	"go.uber.org/zap"
)

// Issue severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// QualityValidator checks a price series for problems that distort backtests.
type QualityValidator struct {
	logger *zap.Logger

	// MaxGapMove is the largest accepted move between consecutive closes.
	MaxGapMove float64
	// MaxIntervalMultiple flags gaps longer than this multiple of the median
	// sampling interval.
	MaxIntervalMultiple float64
}

// DataIssue represents a data quality problem
type DataIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Index     int       `json:"index"`
}

// QualityReport summarizes data quality assessment
type QualityReport struct {
	TotalRows    int         `json:"total_rows"`
	Issues       []DataIssue `json:"issues"`
	QualityScore int         `json:"quality_score"` // 0-100
	IsUsable     bool        `json:"is_usable"`
}

// NewQualityValidator creates a validator with daily-bar defaults.
func NewQualityValidator(logger *zap.Logger) *QualityValidator {
	return &QualityValidator{
		logger:              logger,
		MaxGapMove:          0.5,
		MaxIntervalMultiple: 5,
	}
}

// Validate runs all quality checks. series must be sorted by timestamp.
func (qv *QualityValidator) Validate(series types.PriceSeries) *QualityReport {
	if len(series) == 0 {
		return &QualityReport{
			Issues: []DataIssue{{Type: "NO_DATA", Severity: SeverityCritical, Message: "No data provided"}},
		}
	}

	issues := make([]DataIssue, 0)
	issues = append(issues, qv.checkDuplicates(series)...)
	issues = append(issues, qv.checkPrices(series)...)
	issues = append(issues, qv.checkIntervals(series)...)

	score := qualityScore(len(series), issues)
	qv.logger.Debug("Quality check complete",
		zap.Int("rows", len(series)),
		zap.Int("issues", len(issues)),
		zap.Int("score", score),
	)

	return &QualityReport{
		TotalRows:    len(series),
		Issues:       issues,
		QualityScore: score,
		IsUsable:     score >= 70 && !hasCritical(issues),
	}
}

func (qv *QualityValidator) checkDuplicates(series types.PriceSeries) []DataIssue {
	var issues []DataIssue
	seen := make(map[int64]int, len(series))

	for i, p := range series {
		ts := p.Timestamp.UnixNano()
		if first, ok := seen[ts]; ok {
			issues = append(issues, DataIssue{
				Type:      "DUPLICATE_TIMESTAMP",
				Severity:  SeverityHigh,
				Timestamp: p.Timestamp,
				Message:   fmt.Sprintf("Duplicate timestamp (also at index %d)", first),
				Index:     i,
			})
			continue
		}
		seen[ts] = i
	}
	return issues
}

func (qv *QualityValidator) checkPrices(series types.PriceSeries) []DataIssue {
	var issues []DataIssue

	for i, p := range series {
		if p.Close <= 0 {
			issues = append(issues, DataIssue{
				Type:      "NON_POSITIVE_PRICE",
				Severity:  SeverityCritical,
				Timestamp: p.Timestamp,
				Message:   fmt.Sprintf("Close %v is not positive", p.Close),
				Index:     i,
			})
			continue
		}
		if i == 0 || series[i-1].Close <= 0 {
			continue
		}

		move := math.Abs(p.Close/series[i-1].Close - 1)
		if move > qv.MaxGapMove {
			issues = append(issues, DataIssue{
				Type:      "EXTREME_MOVE",
				Severity:  SeverityMedium,
				Timestamp: p.Timestamp,
				Message:   fmt.Sprintf("Close moved %.1f%% from previous observation", move*100),
				Index:     i,
			})
		}
	}
	return issues
}

// checkIntervals flags gaps much longer than the typical sampling interval.
func (qv *QualityValidator) checkIntervals(series types.PriceSeries) []DataIssue {
	if len(series) < 3 {
		return nil
	}

	intervals := make([]time.Duration, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		intervals = append(intervals, series[i].Timestamp.Sub(series[i-1].Timestamp))
	}
	sorted := append([]time.Duration(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]
	if median <= 0 {
		return nil
	}

	var issues []DataIssue
	limit := time.Duration(float64(median) * qv.MaxIntervalMultiple)
	for i, d := range intervals {
		if d > limit {
			issues = append(issues, DataIssue{
				Type:      "GAP_DETECTED",
				Severity:  SeverityLow,
				Timestamp: series[i+1].Timestamp,
				Message:   fmt.Sprintf("Gap of %s (typical interval %s)", d, median),
				Index:     i + 1,
			})
		}
	}
	return issues
}

// qualityScore returns a 0-100 score
func qualityScore(totalRows int, issues []DataIssue) int {
	penalty := 0.0
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			penalty += 10
		case SeverityHigh:
			penalty += 5
		case SeverityMedium:
			penalty += 2
		case SeverityLow:
			penalty += 0.5
		}
	}

	// More data = more tolerance for small issues
	normalized := penalty / math.Max(1, float64(totalRows)/100) * 10
	return int(math.Max(0, 100-math.Min(normalized, 100)))
}

func hasCritical(issues []DataIssue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
