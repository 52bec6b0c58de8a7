package archive

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xsamyy/killerwhale/internal/classifier"
)

// Postgres stores every event in whale_alerts and folds alpha sightings
// into alpha_candidates.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and applies the embedded migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	stmts, err := migrations("postgres")
	if err != nil {
		return err
	}
	for i, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply postgres migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

const insertAlert = `
	INSERT INTO whale_alerts (
		id, signal, slot, signature, block_time, lamports, sol_amount, usd_value,
		sol_price, price_source, sender, receiver, sender_label, receiver_label,
		tag, dex, loud, alpha_mint, alpha_symbol, alpha_received, detected_at
	) VALUES (
		$1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric,
		$9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20::numeric, $21
	)
	ON CONFLICT (signature) DO NOTHING
`

const upsertAlpha = `
	INSERT INTO alpha_candidates (
		mint, symbol, first_signature, last_signature, last_slot, last_received, hits, first_seen, last_seen
	) VALUES ($1, $2, $3, $3, $4, $5::numeric, 1, $6, $6)
	ON CONFLICT (mint) DO UPDATE SET
		symbol         = COALESCE(NULLIF(EXCLUDED.symbol, ''), alpha_candidates.symbol),
		last_signature = EXCLUDED.last_signature,
		last_slot      = EXCLUDED.last_slot,
		last_received  = EXCLUDED.last_received,
		hits           = alpha_candidates.hits + 1,
		last_seen      = EXCLUDED.last_seen
`

// alertArgs maps ev to the insertAlert parameters. Amounts travel as
// decimal strings so no precision is lost on the way to NUMERIC.
func alertArgs(ev *classifier.Event) []any {
	var alphaMint, alphaSymbol, alphaReceived *string
	if a := ev.Alpha; a != nil {
		received := a.Received.String()
		alphaMint, alphaSymbol, alphaReceived = &a.Mint, &a.Symbol, &received
	}
	return []any{
		ev.ID,
		string(ev.Signal),
		int64(ev.Slot),
		ev.Signature,
		ev.BlockTime,
		strconv.FormatUint(ev.DeltaLamports, 10),
		ev.Delta.String(),
		ev.FiatValue.StringFixed(2),
		ev.Quote.Value,
		ev.Quote.Source,
		ev.Sender,
		ev.Receiver,
		ev.SenderLabel,
		ev.ReceiverLabel,
		string(ev.Tag),
		ev.DEX,
		ev.Loud,
		alphaMint,
		alphaSymbol,
		alphaReceived,
		ev.DetectedAt,
	}
}

// Write inserts ev. A signature already present is a no-op, including for
// the alpha candidate counter.
func (p *Postgres) Write(ctx context.Context, ev *classifier.Event) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertAlert, alertArgs(ev)...)
		if err != nil {
			return fmt.Errorf("insert whale alert: %w", err)
		}
		if tag.RowsAffected() == 0 || ev.Alpha == nil {
			return nil
		}
		a := ev.Alpha
		if _, err := tx.Exec(ctx, upsertAlpha,
			a.Mint, a.Symbol, ev.Signature, int64(ev.Slot), a.Received.String(), ev.DetectedAt,
		); err != nil {
			return fmt.Errorf("upsert alpha candidate: %w", err)
		}
		return nil
	})
}
