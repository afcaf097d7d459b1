package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const walletColumns = `address, chain, private_key, mnemonic, native_balance::text, token_balances,
	name_binding, metadata, last_checked`

// upsertWallet merges in one statement. The row lock taken by ON CONFLICT serialises
// writers to the same address; the WHERE clause turns a chain mismatch into "no row".
// Token balances and metadata merge per key with jsonb ||; NULL parameters keep the
// stored value.
const upsertWallet = `INSERT INTO wallets (address, chain, private_key, mnemonic, native_balance,
	token_balances, name_binding, metadata, last_checked)
	VALUES ($1, $2, $3, $4, $5::numeric, $6::jsonb, $7, $8::jsonb, $9)
	ON CONFLICT (address) DO UPDATE SET
		private_key    = COALESCE(EXCLUDED.private_key, wallets.private_key),
		mnemonic       = COALESCE(EXCLUDED.mnemonic, wallets.mnemonic),
		native_balance = COALESCE(EXCLUDED.native_balance, wallets.native_balance),
		token_balances = CASE WHEN EXCLUDED.token_balances IS NULL THEN wallets.token_balances
			ELSE COALESCE(wallets.token_balances, '{}'::jsonb) || EXCLUDED.token_balances END,
		name_binding   = COALESCE(EXCLUDED.name_binding, wallets.name_binding),
		metadata       = CASE WHEN EXCLUDED.metadata IS NULL THEN wallets.metadata
			ELSE COALESCE(wallets.metadata, '{}'::jsonb) || EXCLUDED.metadata END,
		last_checked   = COALESCE(EXCLUDED.last_checked, wallets.last_checked),
		updated_at     = NOW()
	WHERE wallets.chain = EXCLUDED.chain
	RETURNING address`

// WalletRepo implements ports.WalletStore on PostgreSQL.
type WalletRepo struct {
	pool   Pool
	sealer ports.SecretSealer
}

// NewWalletRepo creates a new WalletRepo. Private keys and mnemonics are sealed before
// they are written.
func NewWalletRepo(pool Pool, sealer ports.SecretSealer) *WalletRepo {
	return &WalletRepo{pool: pool, sealer: sealer}
}

// Upsert inserts or merges w.
func (r *WalletRepo) Upsert(ctx context.Context, w *domain.Wallet) error {
	var privateKey, mnemonic, nativeBalance *string
	if w.PrivateKey != nil {
		sealed, err := r.sealer.Encrypt(w.PrivateKey.Encode())
		if err != nil {
			return fmt.Errorf("seal private key: %w", err)
		}
		privateKey = &sealed
	}
	if w.Mnemonic != nil {
		sealed, err := r.sealer.Encrypt(w.MnemonicPhrase())
		if err != nil {
			return fmt.Errorf("seal mnemonic: %w", err)
		}
		mnemonic = &sealed
	}
	if w.NativeBalance != nil {
		s := w.NativeBalance.String()
		nativeBalance = &s
	}
	tokens, err := marshalNullable(w.TokenBalances)
	if err != nil {
		return fmt.Errorf("encode token balances: %w", err)
	}
	meta, err := marshalNullable(w.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	var address string
	err = r.pool.QueryRow(ctx, upsertWallet,
		w.Address, string(w.Chain), privateKey, mnemonic, nativeBalance,
		tokens, w.NameBinding, meta, w.LastChecked,
	).Scan(&address)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("upsert wallet: %w", err)
	}

	var stored string
	if err := r.pool.QueryRow(ctx, `SELECT chain FROM wallets WHERE address = $1`, w.Address).Scan(&stored); err != nil {
		return fmt.Errorf("read conflicting wallet: %w", err)
	}
	return &domain.DuplicateAddressError{Address: w.Address, Stored: domain.Chain(stored), Incoming: w.Chain}
}

// Get fetches one wallet by address.
func (r *WalletRepo) Get(ctx context.Context, address string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE address = $1`

	w, err := r.scanWallet(r.pool.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet %s: %w", address, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// List returns the wallets matching filter in insertion order.
func (r *WalletRepo) List(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Chain != "" {
		args = append(args, string(filter.Chain))
		conditions = append(conditions, fmt.Sprintf("chain = $%d", len(args)))
	}
	if len(filter.Addresses) > 0 {
		args = append(args, filter.Addresses)
		conditions = append(conditions, fmt.Sprintf("address = ANY($%d)", len(args)))
	}

	query := `SELECT ` + walletColumns + ` FROM wallets`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, address"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := r.scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallets: %w", err)
	}
	return wallets, nil
}

func (r *WalletRepo) scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var (
		w           domain.Wallet
		chain       string
		privateKey  *string
		mnemonic    *string
		balance     *string
		tokens      []byte
		meta        []byte
		lastChecked *time.Time
	)
	if err := row.Scan(&w.Address, &chain, &privateKey, &mnemonic, &balance,
		&tokens, &w.NameBinding, &meta, &lastChecked); err != nil {
		return nil, err
	}
	w.Chain = domain.Chain(chain)
	w.LastChecked = lastChecked

	if privateKey != nil {
		plain, err := r.sealer.Decrypt(*privateKey)
		if err != nil {
			return nil, fmt.Errorf("unseal private key for %s: %w", w.Address, err)
		}
		if w.PrivateKey, err = domain.DecodeSecret(plain); err != nil {
			return nil, err
		}
	}
	if mnemonic != nil {
		plain, err := r.sealer.Decrypt(*mnemonic)
		if err != nil {
			return nil, fmt.Errorf("unseal mnemonic for %s: %w", w.Address, err)
		}
		w.Mnemonic = strings.Fields(plain)
	}
	if balance != nil {
		d, err := decimal.NewFromString(*balance)
		if err != nil {
			return nil, fmt.Errorf("native balance %q: %w", *balance, err)
		}
		w.NativeBalance = &d
	}
	if tokens != nil {
		if err := json.Unmarshal(tokens, &w.TokenBalances); err != nil {
			return nil, fmt.Errorf("token balances: %w", err)
		}
	}
	if meta != nil {
		m, err := domain.DecodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		w.Metadata = m
	}
	return &w, nil
}

// marshalNullable keeps a nil map as SQL NULL so the upsert leaves the stored value.
func marshalNullable[M ~map[string]V, V any](m M) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
