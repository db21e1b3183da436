package etims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"gorm.io/gorm"
)

// Pipeline bundles everything one pipeline step needs for one tenant: the
// resolved settings, an authenticated executor, and the database handle.
type Pipeline struct {
	db       *gorm.DB
	settings *models.EtimsSettings
	tenant   TenantContext
	exec     *Executor
}

// NewPipeline resolves tenant settings and builds an executor for them.
func NewPipeline(ctx context.Context, db *gorm.DB, tenant TenantContext) (*Pipeline, error) {
	if !tenant.Valid() {
		return nil, &ConfigurationError{Detail: "job carries no company name"}
	}

	settings, err := models.GetActiveSettings(ctx, db, tenant.CompanyName, tenant.BranchId)
	if err != nil {
		return nil, &ConfigurationError{Detail: err.Error(), Err: err}
	}

	tokens := NewCredentialManager(db, settings)
	return &Pipeline{
		db:       db,
		settings: settings,
		tenant:   tenantFromSettings(settings),
		exec:     NewExecutor(db, settings, tokens),
	}, nil
}

func (p *Pipeline) DB() *gorm.DB {
	return p.db
}

func (p *Pipeline) Settings() *models.EtimsSettings {
	return p.settings
}

func (p *Pipeline) Tenant() TenantContext {
	return p.tenant
}

func (p *Pipeline) Executor() *Executor {
	return p.exec
}

// StepHandler executes one registered pipeline step for one job.
type StepHandler func(ctx context.Context, p *Pipeline, job config.EtimsJob) error

var (
	stepRegistryMu sync.RWMutex
	stepRegistry   = map[string]StepHandler{}
)

// RegisterStep binds a handler to a step tag. Registration happens in
// package init; duplicate tags panic because they always mean a wiring bug.
func RegisterStep(tag string, handler StepHandler) {
	stepRegistryMu.Lock()
	defer stepRegistryMu.Unlock()
	if _, exists := stepRegistry[tag]; exists {
		panic(fmt.Sprintf("step %q registered twice", tag))
	}
	stepRegistry[tag] = handler
}

func lookupStep(tag string) (StepHandler, bool) {
	stepRegistryMu.RLock()
	defer stepRegistryMu.RUnlock()
	handler, ok := stepRegistry[tag]
	return handler, ok
}

// skippableJobError reports errors that drop a job quietly. A tenant
// without active settings is simply not integrated; its documents produce
// jobs that must not pollute the error log.
func skippableJobError(err error) bool {
	return errors.Is(err, models.ErrNoActiveSettings)
}

// ProcessJob is the worker entry point for one dequeued job.
func ProcessJob(ctx context.Context, db *gorm.DB, job config.EtimsJob) error {
	handler, ok := lookupStep(job.Step)
	if !ok {
		return &ConfigurationError{Detail: fmt.Sprintf("unknown step %q", job.Step)}
	}

	pipeline, err := NewPipeline(ctx, db, TenantContext{
		CompanyName: job.CompanyName,
		BranchId:    job.BranchId,
	})
	if err != nil {
		if skippableJobError(err) {
			config.GetLogger().WithField("company_name", job.CompanyName).
				Debug("no active settings; dropping job")
			return nil
		}
		return err
	}

	if err := handler(ctx, pipeline, job); err != nil {
		logg := config.GetLogger()
		config.LogError(logg, "etims", "ProcessJob", job.Step, map[string]interface{}{
			"document_type": job.DocumentType,
			"document_name": job.DocumentName,
			"company_name":  job.CompanyName,
		}, err)
		return err
	}
	return nil
}

// EnqueueStep publishes the next pipeline step for a document.
func EnqueueStep(ctx context.Context, step string, tenant TenantContext, docType, docName string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = encoded
	}

	_, err := config.PublishEtimsJob(ctx, config.EtimsJob{
		Step:         step,
		DocumentType: docType,
		DocumentName: docName,
		CompanyName:  tenant.CompanyName,
		BranchId:     tenant.BranchId,
		Payload:      raw,
	})
	return err
}
