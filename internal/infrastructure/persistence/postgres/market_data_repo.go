package postgres

import (
	"context"
	"database/sql"
	"time"

	"backtest-core/internal/domain/market"
)

// MarketDataRepo 提供 Postgres 日 K 存取，可作為 adapter 的
// DataProvider 使用。
type MarketDataRepo struct {
	db *sql.DB
}

// NewMarketDataRepo 建立新實例。
func NewMarketDataRepo(db *sql.DB) *MarketDataRepo {
	return &MarketDataRepo{db: db}
}

// InsertBar 寫入或更新單檔單日日 K。
func (r *MarketDataRepo) InsertBar(ctx context.Context, bar market.Bar) error {
	const q = `
INSERT INTO daily_bars (symbol, trade_date, open_price, high_price, low_price, close_price, volume)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (symbol, trade_date)
DO UPDATE SET open_price = EXCLUDED.open_price,
              high_price = EXCLUDED.high_price,
              low_price = EXCLUDED.low_price,
              close_price = EXCLUDED.close_price,
              volume = EXCLUDED.volume,
              updated_at = NOW();
`
	_, err := r.db.ExecContext(ctx, q,
		bar.Symbol, bar.TradeDate, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume,
	)
	return err
}

// History 取單檔在日期區間內的日 K（遞增日期）。
func (r *MarketDataRepo) History(ctx context.Context, symbol string, start, end time.Time) (market.Series, error) {
	const q = `
SELECT symbol, trade_date, open_price, high_price, low_price, close_price, volume
FROM daily_bars
WHERE symbol = $1 AND trade_date >= $2 AND trade_date <= $3
ORDER BY trade_date;
`
	rows, err := r.db.QueryContext(ctx, q, symbol, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out market.Series
	for rows.Next() {
		var bar market.Bar
		if err := rows.Scan(&bar.Symbol, &bar.TradeDate, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, err
		}
		out = append(out, bar)
	}
	return out, rows.Err()
}
