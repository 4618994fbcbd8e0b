package mmio

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{
			name: "free tier zero limit",
			err:  genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Quota exceeded, limit: 0"},
			kind: ErrFreeTier,
		},
		{
			name: "free tier metric",
			err:  errors.New("RESOURCE_EXHAUSTED: generate_requests_per_model FREE_TIER"),
			kind: ErrFreeTier,
		},
		{
			name: "exhausted but paid",
			err:  errors.New("RESOURCE_EXHAUSTED: limit: 60 per minute"),
		},
		{
			name: "billing",
			err:  errors.New("Imagen API is only accessible to billed users at this time."),
			kind: ErrBilling,
		},
		{
			name: "permission denied",
			err:  genai.APIError{Code: 403, Status: "PERMISSION_DENIED", Message: "Permission denied on resource"},
			kind: ErrBilling,
		},
		{
			name: "other",
			err:  errors.New("connection reset by peer"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err, "Image generation (imagen-4.0-generate-001)")
			require.Error(t, err)
			if tt.kind == nil {
				assert.False(t, errors.Is(err, ErrFreeTier))
				assert.False(t, errors.Is(err, ErrBilling))
				assert.Contains(t, err.Error(), "Image generation (imagen-4.0-generate-001) failed")
				assert.Equal(t, 1, ExitCode(err))
				return
			}
			assert.True(t, errors.Is(err, tt.kind))
			assert.Equal(t, 2, ExitCode(err))
		})
	}

	assert.NoError(t, classify(nil, "noop"))
}

func TestQuotaErrorMessage(t *testing.T) {
	err := classify(errors.New("RESOURCE_EXHAUSTED limit: 0"), "Video generation (veo-3.1-generate-preview)")
	assert.Equal(t, "Video generation (veo-3.1-generate-preview) failed.\n\n"+FreeTierMessage, err.Error())

	err = classify(errors.New("billing account required"), "Image generation (x)")
	assert.Equal(t, "Image generation (x) failed.\n\n"+BillingMessage, err.Error())

	// An already classified error is not wrapped again.
	again := classify(err, "outer")
	assert.Same(t, err, again)

	var qe *QuotaError
	require.True(t, errors.As(err, &qe))
	assert.EqualError(t, qe.Unwrap(), "billing account required")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 2, ExitCode(errors.Wrap(&QuotaError{Kind: ErrBilling}, "context")))
}
