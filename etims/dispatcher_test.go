package etims

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
)

// Every step tag referenced by the pipeline must have a registered
// handler; a typo here would silently strand jobs at runtime.
func TestStepRegistryComplete(t *testing.T) {
	steps := []string{
		StepStockSubmitHeader,
		StepStockSubmitLines,
		StepStockTransition,
		StepStockBalance,
		StepInvoiceSubmitHeader,
		StepInvoiceSubmitLines,
		StepInvoiceTransition,
		StepInvoiceSign,
		StepInvoiceFetchReceipt,
		StepItemRegister,
		StepCustomerSearch,
		StepMasterDataPull,
	}

	for _, step := range steps {
		if _, ok := lookupStep(step); !ok {
			t.Errorf("step %q has no registered handler", step)
		}
	}
}

func TestProcessJob_UnknownStep(t *testing.T) {
	err := ProcessJob(context.Background(), nil, config.EtimsJob{
		Step:        "no.such.step",
		CompanyName: "Acme Ltd",
	})

	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestRegisterStep_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration did not panic")
		}
	}()
	RegisterStep(StepStockSubmitHeader, func(ctx context.Context, p *Pipeline, job config.EtimsJob) error {
		return nil
	})
}

// Jobs for tenants without active settings are dropped quietly, not
// reported as errors; the pipeline error wrapping must keep the cause
// detectable.
func TestSkippableJobError(t *testing.T) {
	wrapped := &ConfigurationError{
		Detail: models.ErrNoActiveSettings.Error(),
		Err:    models.ErrNoActiveSettings,
	}
	if !skippableJobError(wrapped) {
		t.Error("missing settings must be skippable through the wrapper")
	}
	if skippableJobError(&ConfigurationError{Detail: "missing route"}) {
		t.Error("other configuration errors must not be skippable")
	}
	if skippableJobError(errors.New("boom")) {
		t.Error("arbitrary errors must not be skippable")
	}
}

func TestTenantContextValid(t *testing.T) {
	if (TenantContext{}).Valid() {
		t.Error("empty tenant must be invalid")
	}
	if !(TenantContext{CompanyName: "Acme Ltd"}).Valid() {
		t.Error("tenant with company must be valid")
	}
}
