package verification

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Indicator is the vendor-neutral shape both payload formats reduce to.
type Indicator struct {
	Tag        string
	Name       string
	Identified bool
}

const (
	tagFraud          = "Fraud"
	tagEarlyWarning   = "Early warning"
	tagWindowDressing = "Window dressing"
)

// RiskSignals are the non-rejecting flags derived from watched indicators.
type RiskSignals struct {
	EarlyWarning   bool
	WindowDressing bool
}

func (s RiskSignals) Any() bool { return s.EarlyWarning || s.WindowDressing }

// EvaluateIndicators applies the fraud rule: the outcome is fraud if any
// indicator tagged Fraud is identified. Early-warning and window-dressing
// indicators never reject on their own; they raise RiskSignals only when the
// indicator name is on the configured watch-list.
func EvaluateIndicators(indicators []Indicator, watchList []string) (fraud bool, signals RiskSignals) {
	watched := make(map[string]struct{}, len(watchList))
	for _, name := range watchList {
		watched[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	onList := func(name string) bool {
		_, ok := watched[strings.ToLower(strings.TrimSpace(name))]
		return ok
	}

	for _, ind := range indicators {
		if !ind.Identified {
			continue
		}
		switch ind.Tag {
		case tagFraud:
			fraud = true
		case tagEarlyWarning:
			if onList(ind.Name) {
				signals.EarlyWarning = true
			}
		case tagWindowDressing:
			if onList(ind.Name) {
				signals.WindowDressing = true
			}
		}
	}
	return fraud, signals
}

// ReportedMonth is one month of vendor-reported statement detail, normalized
// from either payload shape. Fields a vendor does not report stay zero.
type ReportedMonth struct {
	Month           time.Time // first day of the month, UTC
	MinEOD          decimal.Decimal
	AvgEOD          decimal.Decimal
	EndOfMonth      decimal.NullDecimal
	NonSalaryCredit decimal.Decimal
	NonSalaryDebit  decimal.Decimal
}

var monthLayouts = []string{"Jan-06", "Jan-2006", "2006-01"}

// ParseReportMonth parses the month labels vendors use ("Jan-24", "Jan-2024",
// "2024-01") into the first day of that month, UTC.
func ParseReportMonth(label string) (time.Time, bool) {
	label = strings.TrimSpace(label)
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, label); err == nil {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func monthIndex(t time.Time) int { return t.Year()*12 + int(t.Month()) - 1 }

// HasConsecutiveRecentMonths is the consecutive-month + recency sufficiency
// policy: at least 3 distinct months, forming a gap-free calendar sequence,
// with the most recent month no more than 2 calendar months behind now.
func HasConsecutiveRecentMonths(months []time.Time, now time.Time) bool {
	seen := make(map[int]struct{}, len(months))
	for _, m := range months {
		if m.IsZero() {
			continue
		}
		seen[monthIndex(m)] = struct{}{}
	}
	if len(seen) < 3 {
		return false
	}

	idx := make([]int, 0, len(seen))
	for i := range seen {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for i := 1; i < len(idx); i++ {
		if idx[i] != idx[i-1]+1 {
			return false
		}
	}

	return monthIndex(now)-idx[len(idx)-1] <= 2
}

// CountActiveMonths counts months where at least one of average balance,
// end-of-month balance, non-salary credits or non-salary debits is non-zero.
func CountActiveMonths(months []ReportedMonth) int {
	active := 0
	for _, m := range months {
		switch {
		case !m.AvgEOD.IsZero(),
			m.EndOfMonth.Valid && !m.EndOfMonth.Decimal.IsZero(),
			!m.NonSalaryCredit.IsZero(),
			!m.NonSalaryDebit.IsZero():
			active++
		}
	}
	return active
}

// HasNonZeroActivityMonths is the activity-count sufficiency policy: at least
// 3 months with any non-zero reported field.
func HasNonZeroActivityMonths(months []ReportedMonth) bool {
	return CountActiveMonths(months) >= 3
}
