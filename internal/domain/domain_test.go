package domain_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteline/internal/domain"
)

func TestParseTimingIsCaseInsensitive(t *testing.T) {
	got, err := domain.ParseTiming(" Pre-Commencement ")
	require.NoError(t, err)
	assert.Equal(t, domain.TimingPreCommencement, got)

	_, err = domain.ParseTiming("mobilisation")
	assert.ErrorIs(t, err, domain.ErrInvalidTiming)
}

func TestActivityValidateRequiresCanonicalTiming(t *testing.T) {
	ok := domain.Activity{ProjectCode: "P1", Name: "Clearing", Timing: domain.TimingPreCommencement}
	require.NoError(t, ok.Validate())

	for _, timing := range []domain.Timing{"Pre-Commencement", "POST-COMPLETION", " post-commencement", "", "mobilisation"} {
		a := domain.Activity{ProjectCode: "P1", Name: "Clearing", Timing: timing}
		assert.ErrorIs(t, a.Validate(), domain.ErrInvalidTiming, "timing %q", timing)
	}
}

func TestProgressRecordValidate(t *testing.T) {
	base := domain.ProgressRecord{ProjectCode: "P1", ActivityName: "Slab", InputType: domain.InputActual, Quantity: 3}
	require.NoError(t, base.Validate())

	cases := []struct {
		name string
		edit func(*domain.ProgressRecord)
		want error
	}{
		{"case-variant input type", func(r *domain.ProgressRecord) { r.InputType = "Actual" }, domain.ErrInvalidInputType},
		{"unknown input type", func(r *domain.ProgressRecord) { r.InputType = "forecast" }, domain.ErrInvalidInputType},
		{"negative quantity", func(r *domain.ProgressRecord) { r.Quantity = -1 }, domain.ErrNegativeQuantity},
		{"NaN quantity", func(r *domain.ProgressRecord) { r.Quantity = math.NaN() }, domain.ErrInvalidQuantity},
		{"infinite quantity", func(r *domain.ProgressRecord) { r.Quantity = math.Inf(1) }, domain.ErrInvalidQuantity},
		{"negative infinite quantity", func(r *domain.ProgressRecord) { r.Quantity = math.Inf(-1) }, domain.ErrInvalidQuantity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := base
			tc.edit(&r)
			assert.ErrorIs(t, r.Validate(), tc.want)
		})
	}
}
