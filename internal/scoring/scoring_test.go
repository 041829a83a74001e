package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
)

func TestTierFor_Boundaries(t *testing.T) {
	cases := []struct {
		score int
		want  Tier
	}{
		{100, TierAPlus},
		{91, TierAPlus},
		{90, TierA},
		{81, TierA},
		{80, TierB},
		{66, TierB},
		{65, TierC},
		{41, TierC},
		{40, TierD},
		{0, TierD},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TierFor(tc.score), "score %d", tc.score)
	}
}

func TestScore_EmptyInputReturnsDefault(t *testing.T) {
	res := Score(leads.ScoringAttributes{})
	assert.Equal(t, DefaultScore, res.Score)
	assert.Equal(t, TierC, res.Tier)
	assert.Contains(t, res.Rationale, "datos insuficientes")
}

func TestScore_MalformedInputReturnsDefault(t *testing.T) {
	res := Score(leads.ScoringAttributes{
		MonthlyIncome:   "a lot",
		CreditScoreBand: "??",
		TimeAtJob:       "forever-ish",
	})
	assert.Equal(t, DefaultScore, res.Score)
}

func TestScore_StrongApplicant(t *testing.T) {
	res := Score(leads.ScoringAttributes{
		MonthlyIncome:     "$9,500",
		CreditScoreBand:   "excellent",
		Employer:          "Cemex",
		JobTitle:          "Ingeniera",
		TimeAtJob:         "5 años",
		VehicleOfInterest: "Toyota RAV4",
	})
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, TierAPlus, res.Tier)
	assert.Contains(t, res.Rationale, "crédito excelente")
}

func TestScore_MissingFieldsLowerScore(t *testing.T) {
	full := Score(leads.ScoringAttributes{
		MonthlyIncome:   "5200",
		CreditScoreBand: "good",
		Employer:        "Bimbo",
		JobTitle:        "Supervisor",
		TimeAtJob:       "3 years",
	})
	partial := Score(leads.ScoringAttributes{
		MonthlyIncome:   "5200",
		CreditScoreBand: "good",
	})
	assert.Greater(t, full.Score, partial.Score)
}

func TestScore_RecentJobDominatesHighIncome(t *testing.T) {
	res := Score(leads.ScoringAttributes{
		MonthlyIncome:   "20000",
		CreditScoreBand: "excellent",
		Employer:        "Startup",
		JobTitle:        "CTO",
		TimeAtJob:       "2 meses",
	})
	assert.LessOrEqual(t, res.Score, recentJobCap)
	assert.Contains(t, res.Rationale, "tope por antigüedad laboral")

	stable := Score(leads.ScoringAttributes{
		MonthlyIncome:   "4000",
		CreditScoreBand: "excellent",
		Employer:        "Pemex",
		JobTitle:        "Técnico",
		TimeAtJob:       "6 years",
	})
	assert.Greater(t, stable.Score, res.Score)
}

func TestParseMonthlyIncome(t *testing.T) {
	v, ok := ParseMonthlyIncome("5.2k")
	require.True(t, ok)
	assert.InDelta(t, 5200, v, 0.001)

	v, ok = ParseMonthlyIncome("$5,200.00 MXN")
	require.True(t, ok)
	assert.InDelta(t, 5200, v, 0.001)

	_, ok = ParseMonthlyIncome("0")
	assert.False(t, ok)
	_, ok = ParseMonthlyIncome("")
	assert.False(t, ok)
}

func TestParseCreditBand(t *testing.T) {
	band, ok := ParseCreditBand("Buena")
	require.True(t, ok)
	assert.Equal(t, BandGood, band)

	band, ok = ParseCreditBand("760")
	require.True(t, ok)
	assert.Equal(t, BandExcellent, band)

	_, ok = ParseCreditBand("1200")
	assert.False(t, ok)
}

func TestParseTenureMonths(t *testing.T) {
	cases := map[string]float64{
		"2 years":  24,
		"8 meses":  8,
		"1.5":      18,
		"1,5 años": 18,
		"recién":   0,
	}
	for in, want := range cases {
		got, ok := ParseTenureMonths(in)
		require.True(t, ok, in)
		assert.InDelta(t, want, got, 0.001, in)
	}
	_, ok := ParseTenureMonths("")
	assert.False(t, ok)
}
