package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
)

func TestFormatAmount(t *testing.T) {
	cases := map[float64]string{
		25000:       "$25,000.00",
		999.5:       "$999.50",
		1234567.891: "$1,234,567.89",
		0:           UnknownValue,
		-10:         UnknownValue,
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatAmount(in), "amount %v", in)
	}
}

func TestTemplateNarrator_Fallbacks(t *testing.T) {
	lead := &leads.Lead{ID: "l1", Phone: "+5215550000"}
	n := TemplateNarrator{}

	text, err := n.Narrate(lead, Record{ToStatus: leads.StatusQualified}, Details{})
	require.NoError(t, err)
	assert.Contains(t, text, UnassignedAgent)
	assert.Contains(t, text, UnknownValue)
	assert.Contains(t, text, "+5215550000")

	text, err = n.Narrate(lead, Record{ToStatus: leads.StatusSold}, Details{})
	require.NoError(t, err)
	assert.Contains(t, text, "Venta Desconocido por Desconocido")

	_, err = n.Narrate(lead, Record{ToStatus: leads.StatusNew}, Details{})
	assert.Error(t, err)
}

func TestAllowedTargets(t *testing.T) {
	assert.Equal(t, []leads.Status{leads.StatusContacted, leads.StatusQualified, leads.StatusNegotiating,
		leads.StatusSold, leads.StatusLost}, AllowedTargets(leads.StatusNew))
	assert.Equal(t, []leads.Status{leads.StatusSold, leads.StatusLost}, AllowedTargets(leads.StatusNegotiating))
	assert.Nil(t, AllowedTargets(leads.StatusSold))
	assert.Nil(t, AllowedTargets(leads.StatusLost))
	assert.Nil(t, AllowedTargets("archived"))
	assert.True(t, CanTransition(leads.StatusNew, leads.StatusQualified))
	assert.True(t, CanTransition(leads.StatusQualified, leads.StatusSold))
	assert.False(t, CanTransition(leads.StatusQualified, leads.StatusContacted))
	assert.False(t, CanTransition(leads.StatusQualified, leads.StatusQualified))
}
