package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

const uniqueViolation = "23505"

// Postgres stores one party's vault in shared tables keyed by node name.
type Postgres struct {
	DB *pgxpool.Pool
	Me ledger.Party
}

func NewPostgres(db *pgxpool.Pool, me ledger.Party) *Postgres {
	return &Postgres{DB: db, Me: me}
}

func (p *Postgres) Record(ctx context.Context, f ledger.Finalized) error {
	id, err := f.Tx.ID()
	if err != nil {
		return err
	}
	outs, err := relevantOutputs(p.Me, f.Tx.Tx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(f.Tx)
	if err != nil {
		return fmt.Errorf("encode transaction %s: %w", id, err)
	}

	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO ledger_transactions(node, tx_id, position, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node, tx_id) DO NOTHING`,
		p.Me, id, int64(f.Position), payload)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return nil // already recorded
	}

	for _, ref := range f.Tx.Tx.InputRefs() {
		if _, err := tx.Exec(ctx, `
			UPDATE ledger_states SET consumed_by = $4
			WHERE node = $1 AND tx_id = $2 AND idx = $3 AND consumed_by IS NULL`,
			p.Me, ref.TxID, ref.Index, id); err != nil {
			return err
		}
	}

	for _, sr := range outs {
		st, ok := sr.State.(ledger.StockState)
		if !ok {
			continue
		}
		var live ledger.TxID
		err := tx.QueryRow(ctx, `
			SELECT tx_id FROM ledger_states
			WHERE node = $1 AND contract = 'stock' AND owner = $2 AND consumed_by IS NULL
			FOR UPDATE`, p.Me, st.OwnerParty).Scan(&live)
		if err == nil {
			return fmt.Errorf("%w: %s (live %s)", ErrSingletonViolation, st.OwnerParty, live)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	}

	for _, sr := range outs {
		ts, err := ledger.EncodeState(sr.State)
		if err != nil {
			return err
		}
		var linear *uuid.UUID
		if lid, ok := linearIDOf(sr.State); ok {
			linear = &lid
		}
		var owner *string
		if o, ok := ownerOf(sr.State); ok {
			s := string(o)
			owner = &s
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_states(node, tx_id, idx, contract, linear_id, owner, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.Me, sr.Ref.TxID, sr.Ref.Index, ts.Contract, linear, owner, []byte(ts.Data))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "ledger_states_stock_singleton" {
				return fmt.Errorf("%w: %s", ErrSingletonViolation, *owner)
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) query(ctx context.Context, where string, args ...any) ([]ledger.StateAndRef, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT tx_id, idx, contract, payload FROM ledger_states
		WHERE node = $1 AND `+where+` ORDER BY seq`, append([]any{p.Me}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.StateAndRef
	for rows.Next() {
		var (
			ref      ledger.StateRef
			contract string
			payload  []byte
		)
		if err := rows.Scan(&ref.TxID, &ref.Index, &contract, &payload); err != nil {
			return nil, err
		}
		st, err := ledger.DecodeState(ledger.TypedState{Contract: ledger.ContractID(contract), Data: payload})
		if err != nil {
			return nil, err
		}
		out = append(out, ledger.StateAndRef{Ref: ref, State: st})
	}
	return out, rows.Err()
}

func (p *Postgres) ByLinearID(ctx context.Context, contract ledger.ContractID, id uuid.UUID) (ledger.StateAndRef, error) {
	found, err := p.query(ctx, `contract = $2 AND linear_id = $3 AND consumed_by IS NULL`, contract, id)
	if err != nil {
		return ledger.StateAndRef{}, err
	}
	switch len(found) {
	case 0:
		return ledger.StateAndRef{}, fmt.Errorf("%w: %s %s", ErrNotFound, contract, id)
	case 1:
		return found[0], nil
	default:
		return ledger.StateAndRef{}, fmt.Errorf("%w: %s %s", ErrAmbiguous, contract, id)
	}
}

func (p *Postgres) History(ctx context.Context, contract ledger.ContractID, id uuid.UUID) ([]ledger.StateAndRef, error) {
	return p.query(ctx, `contract = $2 AND linear_id = $3`, contract, id)
}

func (p *Postgres) All(ctx context.Context, contract ledger.ContractID) ([]ledger.StateAndRef, error) {
	return p.query(ctx, `contract = $2 AND consumed_by IS NULL`, contract)
}

func (p *Postgres) OwnedBy(ctx context.Context, contract ledger.ContractID, owner ledger.Party) ([]ledger.StateAndRef, error) {
	return p.query(ctx, `contract = $2 AND owner = $3 AND consumed_by IS NULL`, contract, owner)
}

func (p *Postgres) StockHistory(ctx context.Context, owner ledger.Party) ([]ledger.StateAndRef, error) {
	return p.query(ctx, `contract = $2 AND owner = $3`, ledger.ContractStock, owner)
}

func (p *Postgres) CurrentStock(ctx context.Context, owner ledger.Party) (ledger.StateAndRef, bool, error) {
	found, err := p.OwnedBy(ctx, ledger.ContractStock, owner)
	if err != nil || len(found) == 0 {
		return ledger.StateAndRef{}, false, err
	}
	if len(found) > 1 {
		return ledger.StateAndRef{}, false, fmt.Errorf("%w: stock of %s", ErrAmbiguous, owner)
	}
	return found[0], true, nil
}

func (p *Postgres) Transaction(ctx context.Context, id ledger.TxID) (ledger.Finalized, error) {
	var (
		payload  []byte
		position int64
	)
	err := p.DB.QueryRow(ctx, `SELECT payload, position FROM ledger_transactions WHERE node = $1 AND tx_id = $2`,
		p.Me, id).Scan(&payload, &position)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Finalized{}, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	if err != nil {
		return ledger.Finalized{}, err
	}
	var stx ledger.SignedTransaction
	if err := json.Unmarshal(payload, &stx); err != nil {
		return ledger.Finalized{}, fmt.Errorf("decode transaction %s: %w", id, err)
	}
	return ledger.Finalized{Tx: &stx, Position: uint64(position)}, nil
}
