package mmio

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrFreeTier means the free tier has zero quota for the operation.
	ErrFreeTier = errors.New("free tier quota exhausted")
	// ErrBilling means the operation needs a paid account.
	ErrBilling = errors.New("billing required")
	// ErrNoAPIKey is returned when no API key could be resolved.
	ErrNoAPIKey = errors.New("GEMINI_API_KEY required")
)

// FreeTierMessage explains why generation fails on the free tier.
const FreeTierMessage = `[FREE TIER LIMITATION] Image/Video generation unavailable on free tier.

Free tier has zero quota (limit: 0) for:
- Imagen models (imagen-4.0-*)
- Veo models (veo-*)
- Gemini image models (gemini-*-image)

Solutions:
1. Enable billing: https://aistudio.google.com/apikey
2. Use Google Cloud $300 credits: https://cloud.google.com/free

STOP: Don't retry - free tier will always fail for generation.`

// BillingMessage explains how to enable billing.
const BillingMessage = `[BILLING REQUIRED] This operation requires a paid account.

Enable billing at: https://aistudio.google.com/apikey`

var billingIndicators = []string{"billing", "billed users", "payment", "not authorized", "permission denied"}

// QuotaError is a generation failure caused by the account's plan rather
// than the request.
type QuotaError struct {
	Operation string
	Kind      error
	Err       error
}

func (e *QuotaError) Error() string {
	msg := BillingMessage
	if e.Kind == ErrFreeTier {
		msg = FreeTierMessage
	}
	return fmt.Sprintf("%s failed.\n\n%s", e.Operation, msg)
}

// Is matches the error's kind, so errors.Is(err, ErrBilling) works.
func (e *QuotaError) Is(target error) bool {
	return target == e.Kind
}

func (e *QuotaError) Unwrap() error {
	return e.Err
}

func isFreeTierError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") &&
		(strings.Contains(msg, "limit: 0") || strings.Contains(strings.ToLower(msg), "free_tier"))
}

func isBillingError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, ind := range billingIndicators {
		if strings.Contains(msg, ind) {
			return true
		}
	}
	return false
}

// classify turns plan-related API failures into a QuotaError and wraps
// everything else with the operation name.
func classify(err error, operation string) error {
	if err == nil {
		return nil
	}
	var qe *QuotaError
	if errors.As(err, &qe) {
		return err
	}
	if isFreeTierError(err) {
		return &QuotaError{Operation: operation, Kind: ErrFreeTier, Err: err}
	}
	if isBillingError(err) {
		return &QuotaError{Operation: operation, Kind: ErrBilling, Err: err}
	}
	return errors.Wrapf(err, "%s failed", operation)
}

// ExitCode maps an error to the process exit code: 2 for plan and quota
// failures, 1 for anything else, 0 for nil.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrFreeTier), errors.Is(err, ErrBilling):
		return 2
	default:
		return 1
	}
}
