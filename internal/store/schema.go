package store

// Schema creates the ledger tables. Decimal amounts are stored as TEXT so no
// precision is lost; timestamps are Unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id          TEXT    NOT NULL UNIQUE,
	starting_balance TEXT    NOT NULL,
	cash_balance     TEXT    NOT NULL,
	created_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	account_id INTEGER NOT NULL REFERENCES accounts(id),
	symbol     TEXT    NOT NULL,
	quantity   INTEGER NOT NULL CHECK (quantity > 0),
	avg_price  TEXT    NOT NULL,
	PRIMARY KEY (account_id, symbol)
);

CREATE TABLE IF NOT EXISTS orders (
	id                TEXT    PRIMARY KEY,
	account_id        INTEGER NOT NULL REFERENCES accounts(id),
	symbol            TEXT    NOT NULL,
	side              TEXT    NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity          INTEGER NOT NULL CHECK (quantity > 0),
	price             TEXT    NOT NULL,
	status            TEXT    NOT NULL CHECK (status IN ('PENDING', 'FILLED', 'REJECTED')),
	status_text       TEXT    NOT NULL DEFAULT '',
	stop_loss_price   TEXT,
	take_profit_price TEXT,
	exchange          TEXT    NOT NULL DEFAULT '',
	currency          TEXT    NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_lots ON orders(account_id, symbol, side, status_text, created_at);
`
