package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"
	"wallet-reconciler/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
)

// maxImportBytes caps one batch file.
const maxImportBytes = 64 << 20

// WalletOptions carries the generation and import policy.
type WalletOptions struct {
	RequireChecksum bool
	ImportTTL       time.Duration
}

// WalletServiceImpl implements ports.WalletService.
type WalletServiceImpl struct {
	adapters   map[domain.Chain]ports.ChainAdapter
	mnemonic   ports.MnemonicService
	reconciler ports.ReconciliationService
	store      ports.WalletStore
	dedupe     ports.ImportDedupe // nil disables batch dedupe
	opts       WalletOptions
	log        zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(
	adapters []ports.ChainAdapter,
	mnemonic ports.MnemonicService,
	reconciler ports.ReconciliationService,
	store ports.WalletStore,
	dedupe ports.ImportDedupe,
	opts WalletOptions,
	log zerolog.Logger,
) *WalletServiceImpl {
	byChain := make(map[domain.Chain]ports.ChainAdapter, len(adapters))
	for _, a := range adapters {
		byChain[a.Chain()] = a
	}
	return &WalletServiceImpl{
		adapters:   byChain,
		mnemonic:   mnemonic,
		reconciler: reconciler,
		store:      store,
		dedupe:     dedupe,
		opts:       opts,
		log:        log,
	}
}

// Generate derives a wallet, stores it and reconciles it once. A supplied phrase is
// corrected word by word first; with RequireChecksum the corrected phrase must also pass
// the BIP-39 checksum.
func (s *WalletServiceImpl) Generate(ctx context.Context, req ports.GenerateRequest) (*domain.Wallet, error) {
	adapter, ok := s.adapters[req.Chain]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for chain %q", domain.ErrUnsupportedOperation, req.Chain)
	}

	var words []string
	if strings.TrimSpace(req.Mnemonic) != "" {
		report := s.mnemonic.Inspect(req.Mnemonic)
		for _, c := range report.Words {
			s.log.Info().
				Int("position", c.Position).
				Str("replacement", c.Replacement).
				Int("distance", c.Distance).
				Msg("mnemonic word corrected")
		}
		if s.opts.RequireChecksum && !report.ChecksumValid {
			return nil, apperror.ErrInvalidMnemonic(
				fmt.Errorf("%w: corrected phrase fails the BIP-39 checksum", domain.ErrInvalidInput))
		}
		words = strings.Fields(report.Corrected)
	}

	w, err := adapter.Derive(ctx, words)
	if err != nil {
		return nil, fmt.Errorf("derive %s wallet: %w", req.Chain, err)
	}
	if w.Address, err = domain.CanonicalAddress(w.Chain, w.Address); err != nil {
		return nil, fmt.Errorf("derive %s wallet: %w", req.Chain, err)
	}
	if err := s.store.Upsert(ctx, w); err != nil {
		return nil, fmt.Errorf("store wallet: %w", err)
	}

	s.log.Info().Str("chain", string(w.Chain)).Str("address", w.Address).Bool("from_mnemonic", words != nil).Msg("wallet generated")

	reconciled, err := s.reconciler.Reconcile(ctx, []domain.Wallet{*w})
	if err != nil {
		return nil, err
	}
	if len(reconciled) == 1 {
		return &reconciled[0], nil
	}
	return w, nil
}

// Import applies a JSON array of wallet records. Malformed records and chain conflicts are
// skipped and listed in the report; other records are upserted. A batch whose bytes were
// already applied within ImportTTL returns the earlier report marked Duplicated. When
// conflicts occurred the report is returned together with the joined conflict errors,
// on a replay as on the first run.
func (s *WalletServiceImpl) Import(ctx context.Context, r io.Reader) (*ports.ImportReport, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read import: %w", err)
	}
	if len(data) > maxImportBytes {
		return nil, fmt.Errorf("%w: import exceeds %d bytes", domain.ErrInvalidInput, maxImportBytes)
	}

	sum := blake3.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	if prior := s.seen(ctx, digest); prior != nil {
		prior.Duplicated = true
		s.log.Info().Str("batch_id", prior.BatchID).Msg("import batch already applied")
		return prior, replayedConflicts(prior)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: import must be a JSON array of wallet records: %v", domain.ErrInvalidInput, err)
	}

	report := &ports.ImportReport{BatchID: uuid.NewString(), Total: len(records)}
	var conflicts []error
	for i, raw := range records {
		w, err := domain.ParseWalletRecord(raw)
		if err != nil {
			report.Skipped++
			report.Malformed = append(report.Malformed, ports.ImportProblem{Index: i, Reason: err.Error()})
			continue
		}

		if err := s.store.Upsert(ctx, w); err != nil {
			if !errors.Is(err, domain.ErrDuplicateAddress) {
				return nil, fmt.Errorf("import record %d: %w", i, err)
			}
			report.Skipped++
			report.Conflicts = append(report.Conflicts, ports.ImportProblem{Index: i, Address: w.Address, Reason: err.Error()})
			conflicts = append(conflicts, err)
			continue
		}
		report.Upserted++
	}

	s.log.Info().
		Str("batch_id", report.BatchID).
		Int("total", report.Total).
		Int("upserted", report.Upserted).
		Int("malformed", len(report.Malformed)).
		Int("conflicts", len(report.Conflicts)).
		Msg("import batch applied")

	s.remember(ctx, digest, report)
	return report, errors.Join(conflicts...)
}

// replayedConflicts rebuilds the conflict errors of a remembered report.
func replayedConflicts(prior *ports.ImportReport) error {
	errs := make([]error, 0, len(prior.Conflicts))
	for _, c := range prior.Conflicts {
		errs = append(errs, fmt.Errorf("%w: record %d (%s): %s", domain.ErrDuplicateAddress, c.Index, c.Address, c.Reason))
	}
	return errors.Join(errs...)
}

func (s *WalletServiceImpl) seen(ctx context.Context, digest string) *ports.ImportReport {
	if s.dedupe == nil {
		return nil
	}
	raw, err := s.dedupe.Seen(ctx, digest)
	if err != nil {
		s.log.Warn().Err(err).Msg("import dedupe lookup failed, applying batch")
		return nil
	}
	if raw == nil {
		return nil
	}
	var prior ports.ImportReport
	if err := json.Unmarshal(raw, &prior); err != nil {
		s.log.Warn().Err(err).Msg("discarding unreadable import report")
		return nil
	}
	return &prior
}

func (s *WalletServiceImpl) remember(ctx context.Context, digest string, report *ports.ImportReport) {
	if s.dedupe == nil {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		s.log.Warn().Err(err).Msg("encode import report")
		return
	}
	if err := s.dedupe.Remember(ctx, digest, raw, s.opts.ImportTTL); err != nil {
		s.log.Warn().Err(err).Msg("remember import batch")
	}
}

// Get returns one stored wallet.
func (s *WalletServiceImpl) Get(ctx context.Context, address string) (*domain.Wallet, error) {
	return s.store.Get(ctx, domain.NormalizeAddress(address))
}

// List returns the stored wallets matching filter.
func (s *WalletServiceImpl) List(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	return s.store.List(ctx, filter.Normalized())
}
