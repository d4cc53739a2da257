// Package reconcile implements the offline backfill that ensures every
// usable legacy credential record has a matching identity provider account.
package reconcile

import (
	"context"
	"fmt"
	"strconv"

	"github.com/campuslink/authbridge/internal/credstore"
	"github.com/campuslink/authbridge/internal/directory"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultPageSize = 200

// DirectoryClient is the slice of the provider admin API the sweep needs.
type DirectoryClient interface {
	CreateAccount(ctx context.Context, params directory.CreateParams) (directory.Account, error)
	ListAccounts(ctx context.Context, page, perPage int) ([]directory.Account, error)
}

// CredentialLister enumerates both legacy tables in creation order.
type CredentialLister interface {
	ListStaff(ctx context.Context) ([]credstore.StaffCredential, error)
	ListStudents(ctx context.Context) ([]credstore.StudentCredential, error)
}

// JobConfig describes one reconciliation run.
type JobConfig struct {
	Directory   DirectoryClient
	Credentials CredentialLister
	PageSize    int
	DryRun      bool
	Logger      *zap.Logger
}

// Job is a single-pass sweep over both credential tables.
type Job struct {
	directory   DirectoryClient
	credentials CredentialLister
	pageSize    int
	dryRun      bool
	logger      *zap.Logger
}

// NewJob constructs a reconciliation job.
func NewJob(cfg JobConfig) (*Job, error) {
	if cfg.Directory == nil {
		return nil, fmt.Errorf("reconcile: directory client required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("reconcile: credential lister required")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		directory:   cfg.Directory,
		credentials: cfg.Credentials,
		pageSize:    pageSize,
		dryRun:      cfg.DryRun,
		logger:      logger,
	}, nil
}

// candidate is the table-agnostic view of one credential row.
type candidate struct {
	sourceTable string
	email       string
	password    string
	metadata    map[string]any
	usable      bool
}

// Run walks staff then students in creation order and ensures a provider
// account exists for every reconcilable record. No single record's failure
// aborts the run; duplicate registration is never an error.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.NewString(), DryRun: j.dryRun}
	logger := j.logger.With(zap.String("run_id", summary.RunID))

	known, err := j.loadKnownEmails(ctx)
	if err != nil {
		// Proceed with an empty set; creation attempts will surface
		// duplicates individually.
		logger.Warn("account enumeration failed; duplicate detection unreliable", zap.Error(err))
		summary.EnumerationFailed = true
		known = make(map[string]struct{})
	}

	candidates, err := j.collectCandidates(ctx)
	if err != nil {
		return summary, err
	}
	logger.Info("reconciliation started",
		zap.Int("candidates", len(candidates)),
		zap.Int("known_accounts", len(known)),
		zap.Bool("dry_run", j.dryRun))

	for _, record := range candidates {
		j.reconcileOne(ctx, logger, record, known, &summary)
	}

	logger.Info("reconciliation finished",
		zap.Int("created", summary.Created),
		zap.Int("existing", summary.Existing),
		zap.Int("skipped_no_email", summary.SkippedNoEmail),
		zap.Int("skipped_weak_password", summary.SkippedWeakPassword),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (j *Job) reconcileOne(ctx context.Context, logger *zap.Logger, record candidate, known map[string]struct{}, summary *Summary) {
	if record.email == "" {
		summary.SkippedNoEmail++
		return
	}
	if !record.usable {
		summary.SkippedWeakPassword++
		return
	}
	if _, exists := known[record.email]; exists {
		summary.Existing++
		return
	}

	if j.dryRun {
		logger.Info("would create account",
			zap.String("table", record.sourceTable),
			zap.String("email", record.email))
		summary.Created++
		known[record.email] = struct{}{}
		return
	}

	_, err := j.directory.CreateAccount(ctx, directory.CreateParams{
		Email:    record.email,
		Password: record.password,
		Metadata: record.metadata,
		Confirm:  true,
	})
	switch {
	case err == nil:
		summary.Created++
		known[record.email] = struct{}{}
	case directory.IsDuplicateEmail(err):
		// Raced with a concurrent provisioning call or an enumeration gap.
		// Existing beats failure.
		summary.Existing++
		known[record.email] = struct{}{}
	default:
		summary.Failed++
		summary.Failures = append(summary.Failures, Failure{
			SourceTable: record.sourceTable,
			Email:       record.email,
			Message:     err.Error(),
		})
		logger.Warn("account creation failed",
			zap.String("table", record.sourceTable),
			zap.String("email", record.email),
			zap.Error(err))
	}
}

func (j *Job) loadKnownEmails(ctx context.Context) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	for page := 1; ; page++ {
		accounts, err := j.directory.ListAccounts(ctx, page, j.pageSize)
		if err != nil {
			return nil, err
		}
		for _, account := range accounts {
			if email := directory.NormalizeEmail(account.Email); email != "" {
				known[email] = struct{}{}
			}
		}
		if len(accounts) < j.pageSize {
			return known, nil
		}
	}
}

// collectCandidates reads staff first, then students, each in creation
// order. The ordering is a policy choice: staff rows claim contested emails.
func (j *Job) collectCandidates(ctx context.Context) ([]candidate, error) {
	staff, err := j.credentials.ListStaff(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: listing staff: %w", err)
	}
	students, err := j.credentials.ListStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: listing students: %w", err)
	}

	candidates := make([]candidate, 0, len(staff)+len(students))
	for _, record := range staff {
		candidates = append(candidates, candidate{
			sourceTable: record.TableName(),
			email:       record.NormalizedEmail(),
			password:    record.Password,
			usable:      record.Reconcilable(),
			metadata: map[string]any{
				directory.MetadataKeyKind:        string(credstore.KindStaff),
				directory.MetadataKeyRole:        record.Role,
				directory.MetadataKeySourceTable: record.TableName(),
				directory.MetadataKeySourceID:    strconv.FormatUint(uint64(record.ID), 10),
				directory.MetadataKeyUsername:    record.Username,
				directory.MetadataKeyDisplayName: record.DisplayName,
			},
		})
	}
	for _, record := range students {
		candidates = append(candidates, candidate{
			sourceTable: record.TableName(),
			email:       record.NormalizedEmail(),
			password:    record.Password,
			usable:      record.Reconcilable(),
			metadata: map[string]any{
				directory.MetadataKeyKind:        string(credstore.KindStudent),
				directory.MetadataKeyStatus:      record.Status,
				directory.MetadataKeySourceTable: record.TableName(),
				directory.MetadataKeySourceID:    strconv.FormatUint(uint64(record.ID), 10),
				directory.MetadataKeyDisplayName: record.DisplayName,
			},
		})
	}
	return candidates, nil
}
