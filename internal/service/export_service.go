package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"

	"github.com/phpdave11/gofpdf"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var csvHeader = []string{"chain", "address", "native_balance", "token_balances", "name_binding", "metadata", "last_checked"}

// ExportServiceImpl implements ports.ExportService.
type ExportServiceImpl struct {
	store ports.WalletStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewExportService creates a new ExportServiceImpl.
func NewExportService(store ports.WalletStore, log zerolog.Logger) *ExportServiceImpl {
	return &ExportServiceImpl{store: store, log: log, now: time.Now}
}

// exportRow is the secret-free projection shared by the tabular exports.
type exportRow struct {
	Chain         string            `yaml:"chain"`
	Address       string            `yaml:"address"`
	NativeBalance string            `yaml:"native_balance,omitempty"`
	TokenBalances map[string]string `yaml:"token_balances,omitempty"`
	NameBinding   string            `yaml:"name_binding,omitempty"`
	Metadata      map[string]any    `yaml:"metadata,omitempty"`
	LastChecked   string            `yaml:"last_checked,omitempty"`
}

func toRow(w *domain.Wallet) exportRow {
	row := exportRow{Chain: string(w.Chain), Address: w.Address, Metadata: w.Metadata}
	if w.NativeBalance != nil {
		row.NativeBalance = w.NativeBalance.String()
	}
	if w.TokenBalances != nil {
		row.TokenBalances = make(map[string]string, len(w.TokenBalances))
		for sym, amt := range w.TokenBalances {
			row.TokenBalances[sym] = amt.String()
		}
	}
	if w.NameBinding != nil {
		row.NameBinding = *w.NameBinding
	}
	if w.LastChecked != nil {
		row.LastChecked = w.LastChecked.UTC().Format(time.RFC3339)
	}
	return row
}

// WriteCSV writes one line per wallet. Token balances and metadata are JSON-encoded cells;
// absent values are empty cells.
func (s *ExportServiceImpl) WriteCSV(ctx context.Context, w io.Writer, filter domain.WalletFilter) (int, error) {
	wallets, err := s.store.List(ctx, filter.Normalized())
	if err != nil {
		return 0, fmt.Errorf("list wallets: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	for i := range wallets {
		row := toRow(&wallets[i])
		var tokens, meta string
		if row.TokenBalances != nil {
			if tokens, err = jsonCell(row.TokenBalances); err != nil {
				return i, err
			}
		}
		if row.Metadata != nil {
			if meta, err = jsonCell(row.Metadata); err != nil {
				return i, err
			}
		}
		record := []string{row.Chain, row.Address, row.NativeBalance, tokens, row.NameBinding, meta, row.LastChecked}
		if err := cw.Write(record); err != nil {
			return i, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(wallets), fmt.Errorf("flush csv: %w", err)
	}

	s.log.Info().Int("count", len(wallets)).Str("format", "csv").Msg("wallets exported")
	return len(wallets), nil
}

func jsonCell(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode cell: %w", err)
	}
	return string(raw), nil
}

// WriteYAML writes the wallets as a YAML sequence.
func (s *ExportServiceImpl) WriteYAML(ctx context.Context, w io.Writer, filter domain.WalletFilter) (int, error) {
	wallets, err := s.store.List(ctx, filter.Normalized())
	if err != nil {
		return 0, fmt.Errorf("list wallets: %w", err)
	}

	rows := make([]exportRow, len(wallets))
	for i := range wallets {
		rows[i] = toRow(&wallets[i])
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rows); err != nil {
		return 0, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("encode yaml: %w", err)
	}

	s.log.Info().Int("count", len(wallets)).Str("format", "yaml").Msg("wallets exported")
	return len(wallets), nil
}

// WritePDF renders a printable reconciliation report: per-chain totals followed by one
// block per wallet.
func (s *ExportServiceImpl) WritePDF(ctx context.Context, w io.Writer, filter domain.WalletFilter) (int, error) {
	wallets, err := s.store.List(ctx, filter.Normalized())
	if err != nil {
		return 0, fmt.Errorf("list wallets: %w", err)
	}

	pdf := buildReport(wallets, s.now())
	if err := pdf.Output(w); err != nil {
		return 0, fmt.Errorf("write pdf: %w", err)
	}

	s.log.Info().Int("count", len(wallets)).Str("format", "pdf").Msg("wallets exported")
	return len(wallets), nil
}

func buildReport(wallets []domain.Wallet, generatedAt time.Time) *gofpdf.Fpdf {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(14, 14, 14)
	pdf.SetAutoPageBreak(true, 14)
	pdf.SetTitle("Wallet Reconciliation Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 9, "Wallet Reconciliation Report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(0, 6, "Generated at: "+generatedAt.UTC().Format(time.RFC3339), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Wallets: %d", len(wallets)), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	sectionTitle(pdf, "1. Totals by chain")
	counts := map[domain.Chain]int{}
	totals := map[domain.Chain]decimal.Decimal{}
	for i := range wallets {
		c := wallets[i].Chain
		counts[c]++
		if wallets[i].NativeBalance != nil {
			totals[c] = totals[c].Add(*wallets[i].NativeBalance)
		}
	}
	if len(counts) == 0 {
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, "(empty)", "", "L", false)
	}
	for _, c := range slices.Sorted(maps.Keys(counts)) {
		kv(pdf, string(c), fmt.Sprintf("%d wallets, native total %s", counts[c], totals[c].String()))
	}
	pdf.Ln(2)

	sectionTitle(pdf, "2. Wallets")
	for i := range wallets {
		row := toRow(&wallets[i])
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetTextColor(20, 20, 20)
		pdf.MultiCell(0, 5, safeText(row.Chain+" | "+row.Address), "", "L", false)
		kv(pdf, "Native", row.NativeBalance)
		if len(row.TokenBalances) > 0 {
			parts := make([]string, 0, len(row.TokenBalances))
			for _, sym := range slices.Sorted(maps.Keys(row.TokenBalances)) {
				parts = append(parts, sym+"="+row.TokenBalances[sym])
			}
			kv(pdf, "Tokens", strings.Join(parts, ", "))
		}
		kv(pdf, "Name", row.NameBinding)
		if len(row.Metadata) > 0 {
			parts := make([]string, 0, len(row.Metadata))
			for _, k := range slices.Sorted(maps.Keys(row.Metadata)) {
				parts = append(parts, fmt.Sprintf("%s=%v", k, row.Metadata[k]))
			}
			kv(pdf, "Metadata", strings.Join(parts, ", "))
		}
		kv(pdf, "Last checked", row.LastChecked)
		pdf.Ln(1)
	}
	return pdf
}

func sectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 7, title, "", 1, "L", false, 0, "")
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(pdf.GetX(), pdf.GetY(), 196, pdf.GetY())
	pdf.Ln(2)
}

func kv(pdf *gofpdf.Fpdf, key, value string) {
	if strings.TrimSpace(value) == "" {
		value = "-"
	}
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetTextColor(30, 30, 30)
	pdf.CellFormat(30, 4.8, key+":", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.MultiCell(0, 4.8, safeText(value), "", "L", false)
}

// safeText keeps the core fonts happy: control characters become spaces and anything
// outside printable ASCII becomes '?'.
func safeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 0x20 || r > 0x7e:
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// keystoreDoc is the wallet-extension import document for an ETH account.
type keystoreDoc struct {
	Version  int            `json:"version"`
	ID       string         `json:"id"`
	Address  string         `json:"address"`
	Crypto   keystoreCrypto `json:"crypto"`
	Mnemonic string         `json:"mnemonic"`
}

type keystoreCrypto struct {
	PrivateKey any `json:"private_key"`
}

// WalletJSON returns the keystore-style import document for a stored ETH wallet, with the
// private key and mnemonic in clear text.
func (s *ExportServiceImpl) WalletJSON(ctx context.Context, address string) ([]byte, error) {
	w, err := s.store.Get(ctx, domain.NormalizeAddress(address))
	if err != nil {
		return nil, err
	}
	if w.Chain != domain.ChainETH {
		return nil, fmt.Errorf("%w: keystore export is only defined for ETH, wallet is %s", domain.ErrUnsupportedOperation, w.Chain)
	}
	if w.PrivateKey == nil {
		return nil, fmt.Errorf("%w: wallet %s has no private key", domain.ErrInvalidInput, address)
	}

	doc := keystoreDoc{
		Version:  1,
		ID:       w.Address,
		Address:  strings.ToLower(strings.TrimPrefix(w.Address, "0x")),
		Crypto:   keystoreCrypto{PrivateKey: w.PrivateKey.External()},
		Mnemonic: w.MnemonicPhrase(),
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode keystore: %w", err)
	}

	s.log.Warn().Str("address", w.Address).Msg("wallet secret exported")
	return raw, nil
}
