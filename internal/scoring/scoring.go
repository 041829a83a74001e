// Package scoring derives a lead's priority from the applicant attributes
// collected during intake and conversation. Score is pure; Service stores
// the result on the lead.
package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfman30/dealership-ai-platform/internal/leads"
)

// DefaultScore is assigned when the input carries no usable signal at all.
const DefaultScore = 50

// Tier is a coarse priority bucket.
type Tier string

const (
	TierAPlus Tier = "A+"
	TierA     Tier = "A"
	TierB     Tier = "B"
	TierC     Tier = "C"
	TierD     Tier = "D"
)

// Result is the outcome of scoring one lead.
type Result struct {
	Score     int    `json:"score"`
	Tier      Tier   `json:"tier"`
	Rationale string `json:"rationale"`
}

// Score caps applied when job tenure is short. Stability outranks income.
const (
	recentJobCap    = 60
	juniorTenureCap = 80
)

// TierFor maps a score onto its fixed tier boundaries.
func TierFor(score int) Tier {
	switch {
	case score > 90:
		return TierAPlus
	case score > 80:
		return TierA
	case score > 65:
		return TierB
	case score > 40:
		return TierC
	default:
		return TierD
	}
}

// Score computes the priority of a lead. It never fails: missing fields lower
// the score and an input with no usable signal returns DefaultScore.
func Score(in leads.ScoringAttributes) Result {
	income, incomeOK := ParseMonthlyIncome(in.MonthlyIncome)
	band, bandOK := ParseCreditBand(in.CreditScoreBand)
	tenure, tenureOK := ParseTenureMonths(in.TimeAtJob)
	employer := strings.TrimSpace(in.Employer) != ""
	title := strings.TrimSpace(in.JobTitle) != ""
	vehicle := strings.TrimSpace(in.VehicleOfInterest) != ""

	if !incomeOK && !bandOK && !tenureOK && !employer && !title {
		return Result{
			Score:     DefaultScore,
			Tier:      TierFor(DefaultScore),
			Rationale: "datos insuficientes para calificar; se asigna puntaje conservador",
		}
	}

	score := DefaultScore
	var notes []string
	add := func(delta int, note string) {
		score += delta
		notes = append(notes, fmt.Sprintf("%s (%+d)", note, delta))
	}

	switch {
	case !incomeOK:
		add(-5, "ingreso desconocido")
	case income >= 8000:
		add(20, "ingreso alto")
	case income >= 5000:
		add(15, "ingreso sólido")
	case income >= 3000:
		add(8, "ingreso moderado")
	case income >= 1500:
		add(0, "ingreso ajustado")
	default:
		add(-10, "ingreso bajo")
	}

	switch {
	case !bandOK:
		add(-5, "crédito desconocido")
	case band == BandExcellent:
		add(20, "crédito excelente")
	case band == BandGood:
		add(15, "crédito bueno")
	case band == BandFair:
		add(3, "crédito regular")
	default:
		add(-15, "crédito deficiente")
	}

	switch {
	case employer && title:
		add(5, "empleo verificable")
	case employer || title:
		add(2, "empleo parcial")
	default:
		add(-5, "sin datos de empleo")
	}

	capAt := 100
	switch {
	case !tenureOK:
		add(-3, "antigüedad desconocida")
	case tenure >= 24:
		add(10, "antigüedad estable")
	case tenure >= 12:
		add(5, "antigüedad media")
	case tenure >= 6:
		add(0, "antigüedad corta")
		capAt = juniorTenureCap
	default:
		add(-10, "empleo reciente")
		capAt = recentJobCap
	}

	if vehicle {
		add(3, "vehículo de interés definido")
	}

	score = clamp(score, 0, 100)
	if score > capAt {
		score = capAt
		notes = append(notes, fmt.Sprintf("tope por antigüedad laboral (%d)", capAt))
	}

	return Result{
		Score:     score,
		Tier:      TierFor(score),
		Rationale: strings.Join(notes, "; "),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CreditBand is a normalized credit quality bucket.
type CreditBand string

const (
	BandExcellent CreditBand = "excellent"
	BandGood      CreditBand = "good"
	BandFair      CreditBand = "fair"
	BandPoor      CreditBand = "poor"
)

var creditBandAliases = map[string]CreditBand{
	"excellent": BandExcellent,
	"excelente": BandExcellent,
	"very good": BandGood,
	"good":      BandGood,
	"bueno":     BandGood,
	"buena":     BandGood,
	"muy bueno": BandExcellent,
	"fair":      BandFair,
	"average":   BandFair,
	"regular":   BandFair,
	"poor":      BandPoor,
	"bad":       BandPoor,
	"malo":      BandPoor,
	"mala":      BandPoor,
}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParseCreditBand accepts a named band (English or Spanish) or a numeric
// bureau score between 300 and 850.
func ParseCreditBand(raw string) (CreditBand, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	if band, ok := creditBandAliases[s]; ok {
		return band, true
	}
	if m := numberPattern.FindString(s); m != "" {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil || v < 300 || v > 850 {
			return "", false
		}
		switch {
		case v >= 750:
			return BandExcellent, true
		case v >= 700:
			return BandGood, true
		case v >= 640:
			return BandFair, true
		default:
			return BandPoor, true
		}
	}
	return "", false
}

// ParseMonthlyIncome reads amounts like "5200", "$5,200.00" or "5.2k".
// Non-positive or unparseable values report false.
func ParseMonthlyIncome(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ",", "")
	m := numberPattern.FindStringIndex(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(s[m[0]:m[1]], 64)
	if err != nil || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	if rest := strings.TrimSpace(s[m[1]:]); strings.HasPrefix(rest, "k") {
		v *= 1000
	}
	return v, true
}

var tenurePattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(años|año|anos|ano|years|year|yrs|yr|meses|mes|months|month|mos|mo|semanas|semana|weeks|week|días|dias|día|dia|days|day)?`)

var recentStartHints = []string{"recién", "recien", "just started", "apenas"}

// ParseTenureMonths converts "2 years", "8 meses" or a bare number of years
// into months on the job.
func ParseTenureMonths(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, false
	}
	for _, hint := range recentStartHints {
		if strings.Contains(s, hint) {
			return 0, true
		}
	}
	m := tenurePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || v < 0 || math.IsInf(v, 0) {
		return 0, false
	}
	switch m[2] {
	case "meses", "mes", "months", "month", "mos", "mo":
		return v, true
	case "semanas", "semana", "weeks", "week":
		return v / 4.345, true
	case "días", "dias", "día", "dia", "days", "day":
		return v / 30.4, true
	default:
		return v * 12, true
	}
}
