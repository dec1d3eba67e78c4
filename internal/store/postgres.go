package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sproutfin/wallet-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, user_id, account_type, balance, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)
		 ON CONFLICT (user_id, account_type) DO NOTHING`,
		a.ID, a.UserID, a.Type, a.Balance.String(), a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string, typ model.AccountType) (*model.Account, error) {
	var a model.Account
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, account_type, balance::TEXT, created_at, updated_at
		 FROM accounts WHERE user_id = $1 AND account_type = $2`, userID, typ).
		Scan(&a.ID, &a.UserID, &a.Type, &balance, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s/%s: %w", userID, typ, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s/%s: %w", userID, typ, err)
	}

	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, userID string) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, account_type, balance::TEXT, created_at, updated_at
		 FROM accounts WHERE user_id = $1 ORDER BY account_type`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var balance string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Balance, _ = decimal.NewFromString(balance)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ApplyTransaction runs every balance delta plus the transaction append in a
// single database transaction, so a partial failure leaves no trace.
func (s *PostgresStore) ApplyTransaction(ctx context.Context, changes []BalanceChange, txn *model.Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, ch := range changes {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts
			 SET balance = balance + $2::NUMERIC, updated_at = $3
			 WHERE id = $1`,
			ch.AccountID, ch.Delta.String(), txn.Timestamp,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("account %s: %w", ch.AccountID, ErrNotFound)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, transaction_type, amount, from_account, to_account, description, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
		txn.ID, txn.UserID, txn.Type, txn.Amount.String(),
		txn.FromAccount, txn.ToAccount, txn.Description, txn.Timestamp,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, transaction_type, amount::TEXT, from_account, to_account, description, timestamp
		 FROM transactions WHERE user_id = $1 ORDER BY timestamp DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &amount,
			&t.FromAccount, &t.ToAccount, &t.Description, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Amount, _ = decimal.NewFromString(amount)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

const assetColumns = `id, kind, symbol, name,
	base_price::TEXT, current_price::TEXT, min_lot_size::TEXT, is_active,
	growth_rate_min::TEXT, growth_rate_max::TEXT, maturity_days,
	volatility::TEXT, risk_level, dividend_yield::TEXT, category, created_at`

func scanAsset(row pgx.Row) (*model.Asset, error) {
	var a model.Asset
	var basePrice, currentPrice, minLot, gMin, gMax, vol, div string

	err := row.Scan(&a.ID, &a.Kind, &a.Symbol, &a.Name,
		&basePrice, &currentPrice, &minLot, &a.Active,
		&gMin, &gMax, &a.MaturityDays,
		&vol, &a.RiskLevel, &div, &a.Category, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	a.BasePrice, _ = decimal.NewFromString(basePrice)
	a.CurrentPrice, _ = decimal.NewFromString(currentPrice)
	a.MinLotSize, _ = decimal.NewFromString(minLot)
	a.GrowthRateMin, _ = decimal.NewFromString(gMin)
	a.GrowthRateMax, _ = decimal.NewFromString(gMax)
	a.Volatility, _ = decimal.NewFromString(vol)
	a.DividendYield, _ = decimal.NewFromString(div)
	return &a, nil
}

func (s *PostgresStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assets (id, kind, symbol, name,
		   base_price, current_price, min_lot_size, is_active,
		   growth_rate_min, growth_rate_max, maturity_days,
		   volatility, risk_level, dividend_yield, category, created_at)
		 VALUES ($1, $2, $3, $4,
		   $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8,
		   $9::NUMERIC, $10::NUMERIC, $11,
		   $12::NUMERIC, $13, $14::NUMERIC, $15, $16)`,
		a.ID, a.Kind, a.Symbol, a.Name,
		a.BasePrice.String(), a.CurrentPrice.String(), a.MinLotSize.String(), a.Active,
		a.GrowthRateMin.String(), a.GrowthRateMax.String(), a.MaturityDays,
		a.Volatility.String(), a.RiskLevel, a.DividendYield.String(), a.Category, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1`, id)
	a, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAssets(ctx context.Context, kind model.AssetKind) ([]model.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets ORDER BY symbol`
	args := []any{}
	if kind != "" {
		query = `SELECT ` + assetColumns + ` FROM assets WHERE kind = $1 ORDER BY symbol`
		args = append(args, kind)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// SetAssetPrice updates the live price and the day's history row in one
// database transaction. Re-ticking the same day overwrites that day's row.
func (s *PostgresStore) SetAssetPrice(ctx context.Context, id string, price decimal.Decimal, day string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE assets SET current_price = $2::NUMERIC WHERE id = $1`,
		id, price.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO price_history (asset_id, day, price)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (asset_id, day) DO UPDATE SET price = EXCLUDED.price`,
		id, day, price.String(),
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) SetAssetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assets SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, assetID string, limit int) ([]model.PricePoint, error) {
	if limit <= 0 {
		limit = 90
	}
	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, day, price::TEXT
		 FROM price_history WHERE asset_id = $1 ORDER BY day DESC LIMIT $2`,
		assetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var price string
		if err := rows.Scan(&p.AssetID, &p.Day, &price); err != nil {
			return nil, err
		}
		p.Price, _ = decimal.NewFromString(price)
		points = append(points, p)
	}
	return points, rows.Err()
}

const holdingColumns = `id, user_id, asset_id, quantity::TEXT,
	average_buy_price::TEXT, purchase_price::TEXT, purchase_date, updated_at`

func scanHolding(row pgx.Row) (*model.Holding, error) {
	var h model.Holding
	var qty, avg, purchase string

	err := row.Scan(&h.ID, &h.UserID, &h.AssetID, &qty,
		&avg, &purchase, &h.PurchaseDate, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}

	h.Quantity, _ = decimal.NewFromString(qty)
	h.AverageBuyPrice, _ = decimal.NewFromString(avg)
	h.PurchasePrice, _ = decimal.NewFromString(purchase)
	return &h, nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, userID, assetID string) (*model.Holding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 AND asset_id = $2`,
		userID, assetID)
	h, err := scanHolding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("holding %s/%s: %w", userID, assetID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s/%s: %w", userID, assetID, err)
	}
	return h, nil
}

func (s *PostgresStore) GetHoldingByID(ctx context.Context, id string) (*model.Holding, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE id = $1`, id)
	h, err := scanHolding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s: %w", id, err)
	}
	return h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 ORDER BY purchase_date`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, *h)
	}
	return holdings, rows.Err()
}

func (s *PostgresStore) SaveHolding(ctx context.Context, h *model.Holding) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO holdings (id, user_id, asset_id, quantity, average_buy_price, purchase_price, purchase_date, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   quantity = EXCLUDED.quantity,
		   average_buy_price = EXCLUDED.average_buy_price,
		   updated_at = EXCLUDED.updated_at`,
		h.ID, h.UserID, h.AssetID, h.Quantity.String(),
		h.AverageBuyPrice.String(), h.PurchasePrice.String(),
		h.PurchaseDate, h.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) DeleteHolding(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM holdings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("holding %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateNewsEvent(ctx context.Context, n *model.NewsEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO news_events (id, headline, impact_type, impact_percent, stock_id, category, is_applied, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
		n.ID, n.Headline, n.Impact, n.ImpactPercent.String(),
		n.StockID, n.Category, n.Applied, n.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetNewsEvent(ctx context.Context, id string) (*model.NewsEvent, error) {
	var n model.NewsEvent
	var impact string

	err := s.pool.QueryRow(ctx,
		`SELECT id, headline, impact_type, impact_percent::TEXT, stock_id, category, is_applied, created_at, applied_at
		 FROM news_events WHERE id = $1`, id).
		Scan(&n.ID, &n.Headline, &n.Impact, &impact,
			&n.StockID, &n.Category, &n.Applied, &n.CreatedAt, &n.AppliedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("news event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get news event %s: %w", id, err)
	}

	n.ImpactPercent, _ = decimal.NewFromString(impact)
	return &n, nil
}

func (s *PostgresStore) ListNewsEvents(ctx context.Context, pendingOnly bool) ([]model.NewsEvent, error) {
	query := `SELECT id, headline, impact_type, impact_percent::TEXT, stock_id, category, is_applied, created_at, applied_at
	          FROM news_events ORDER BY created_at`
	if pendingOnly {
		query = `SELECT id, headline, impact_type, impact_percent::TEXT, stock_id, category, is_applied, created_at, applied_at
		         FROM news_events WHERE is_applied = FALSE ORDER BY created_at`
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.NewsEvent
	for rows.Next() {
		var n model.NewsEvent
		var impact string
		if err := rows.Scan(&n.ID, &n.Headline, &n.Impact, &impact,
			&n.StockID, &n.Category, &n.Applied, &n.CreatedAt, &n.AppliedAt); err != nil {
			return nil, err
		}
		n.ImpactPercent, _ = decimal.NewFromString(impact)
		events = append(events, n)
	}
	return events, rows.Err()
}

// MarkNewsApplied flips is_applied with a conditional UPDATE so that two
// concurrent applies cannot both succeed.
func (s *PostgresStore) MarkNewsApplied(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE news_events SET is_applied = TRUE, applied_at = $2
		 WHERE id = $1 AND is_applied = FALSE`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetNewsEvent(ctx, id); getErr != nil {
			return getErr
		}
		return ErrNewsAlreadyApplied
	}
	return nil
}

func (s *PostgresStore) LastSimulationDay(ctx context.Context) (string, error) {
	var day string
	err := s.pool.QueryRow(ctx,
		`SELECT day FROM simulation_runs ORDER BY day DESC LIMIT 1`).Scan(&day)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return day, nil
}

// MarkSimulationRun relies on the primary key on day: the second of two
// concurrent triggers inserts nothing and reports ErrAlreadyRanToday.
func (s *PostgresStore) MarkSimulationRun(ctx context.Context, day string) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO simulation_runs (day, ran_at) VALUES ($1, NOW())
		 ON CONFLICT (day) DO NOTHING`, day)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRanToday
	}
	return nil
}

func (s *PostgresStore) ClearSimulationRun(ctx context.Context, day string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM simulation_runs WHERE day = $1`, day)
	return err
}
