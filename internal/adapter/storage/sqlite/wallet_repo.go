package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wallet-reconciler/internal/core/domain"
	"wallet-reconciler/internal/core/ports"

	"github.com/shopspring/decimal"
)

const walletColumns = `address, chain, private_key, mnemonic, native_balance, token_balances,
	name_binding, metadata, last_checked`

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WalletRepo implements ports.WalletStore on SQLite. Merges happen in Go inside a
// transaction; the single connection from Open makes that transaction exclusive.
type WalletRepo struct {
	db     *sql.DB
	sealer ports.SecretSealer
}

// NewWalletRepo creates a new WalletRepo. Private keys and mnemonics are sealed before
// they are written.
func NewWalletRepo(db *sql.DB, sealer ports.SecretSealer) *WalletRepo {
	return &WalletRepo{db: db, sealer: sealer}
}

// Upsert inserts or merges w.
func (r *WalletRepo) Upsert(ctx context.Context, w *domain.Wallet) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	cur, err := r.get(ctx, tx, w.Address)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := r.write(ctx, tx, insertWallet, w); err != nil {
			return fmt.Errorf("insert wallet: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read wallet: %w", err)
	case cur.Chain != w.Chain:
		return &domain.DuplicateAddressError{Address: w.Address, Stored: cur.Chain, Incoming: w.Chain}
	default:
		cur.MergeFrom(w)
		if err := r.write(ctx, tx, updateWallet, cur); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

const insertWallet = `INSERT INTO wallets (address, chain, private_key, mnemonic, native_balance,
	token_balances, name_binding, metadata, last_checked)
	VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9)`

const updateWallet = `UPDATE wallets SET chain = ?2, private_key = ?3, mnemonic = ?4,
	native_balance = ?5, token_balances = ?6, name_binding = ?7, metadata = ?8,
	last_checked = ?9, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	WHERE address = ?1`

func (r *WalletRepo) write(ctx context.Context, tx *sql.Tx, query string, w *domain.Wallet) error {
	var privateKey, mnemonic, nativeBalance, tokens, meta, lastChecked sql.NullString
	if w.PrivateKey != nil {
		sealed, err := r.sealer.Encrypt(w.PrivateKey.Encode())
		if err != nil {
			return fmt.Errorf("seal private key: %w", err)
		}
		privateKey = sql.NullString{String: sealed, Valid: true}
	}
	if w.Mnemonic != nil {
		sealed, err := r.sealer.Encrypt(w.MnemonicPhrase())
		if err != nil {
			return fmt.Errorf("seal mnemonic: %w", err)
		}
		mnemonic = sql.NullString{String: sealed, Valid: true}
	}
	if w.NativeBalance != nil {
		nativeBalance = sql.NullString{String: w.NativeBalance.String(), Valid: true}
	}
	if w.TokenBalances != nil {
		raw, err := json.Marshal(w.TokenBalances)
		if err != nil {
			return fmt.Errorf("encode token balances: %w", err)
		}
		tokens = sql.NullString{String: string(raw), Valid: true}
	}
	if w.Metadata != nil {
		raw, err := json.Marshal(w.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}
	if w.LastChecked != nil {
		lastChecked = sql.NullString{String: w.LastChecked.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	var name sql.NullString
	if w.NameBinding != nil {
		name = sql.NullString{String: *w.NameBinding, Valid: true}
	}

	_, err := tx.ExecContext(ctx, query,
		w.Address, string(w.Chain), privateKey, mnemonic, nativeBalance,
		tokens, name, meta, lastChecked,
	)
	return err
}

// Get fetches one wallet by address.
func (r *WalletRepo) Get(ctx context.Context, address string) (*domain.Wallet, error) {
	w, err := r.get(ctx, r.db, address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wallet %s: %w", address, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

func (r *WalletRepo) get(ctx context.Context, q querier, address string) (*domain.Wallet, error) {
	return r.scanWallet(q.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE address = ?1`, address))
}

// List returns the wallets matching filter in insertion order.
func (r *WalletRepo) List(ctx context.Context, filter domain.WalletFilter) ([]domain.Wallet, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.Chain != "" {
		args = append(args, string(filter.Chain))
		conditions = append(conditions, "chain = ?")
	}
	if len(filter.Addresses) > 0 {
		marks := make([]string, len(filter.Addresses))
		for i, a := range filter.Addresses {
			marks[i] = "?"
			args = append(args, a)
		}
		conditions = append(conditions, "address IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + walletColumns + ` FROM wallets`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := r.db.QueryContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func (r *WalletRepo) scanWallet(row scanner) (*domain.Wallet, error) {
	var (
		w                                           domain.Wallet
		chain                                       string
		privateKey, mnemonic, balance, tokens, name sql.NullString
		meta, lastChecked                           sql.NullString
	)
	if err := row.Scan(&w.Address, &chain, &privateKey, &mnemonic, &balance,
		&tokens, &name, &meta, &lastChecked); err != nil {
		return nil, err
	}
	w.Chain = domain.Chain(chain)

	if privateKey.Valid {
		plain, err := r.sealer.Decrypt(privateKey.String)
		if err != nil {
			return nil, fmt.Errorf("unseal private key for %s: %w", w.Address, err)
		}
		if w.PrivateKey, err = domain.DecodeSecret(plain); err != nil {
			return nil, err
		}
	}
	if mnemonic.Valid {
		plain, err := r.sealer.Decrypt(mnemonic.String)
		if err != nil {
			return nil, fmt.Errorf("unseal mnemonic for %s: %w", w.Address, err)
		}
		w.Mnemonic = strings.Fields(plain)
	}
	if balance.Valid {
		d, err := decimal.NewFromString(balance.String)
		if err != nil {
			return nil, fmt.Errorf("native balance %q: %w", balance.String, err)
		}
		w.NativeBalance = &d
	}
	if tokens.Valid {
		if err := json.Unmarshal([]byte(tokens.String), &w.TokenBalances); err != nil {
			return nil, fmt.Errorf("token balances: %w", err)
		}
	}
	if name.Valid {
		n := name.String
		w.NameBinding = &n
	}
	if meta.Valid {
		m, err := domain.DecodeMetadata([]byte(meta.String))
		if err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		w.Metadata = m
	}
	if lastChecked.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastChecked.String)
		if err != nil {
			return nil, fmt.Errorf("last_checked %q: %w", lastChecked.String, err)
		}
		w.LastChecked = &t
	}
	return &w, nil
}
