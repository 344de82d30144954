package store

// schema is executed once at boot as a single multi-statement Exec (no
// explicit transaction). It holds every table and index definition,
// mirroring the teacher's pattern of
// centralizing all SQL (and, specifically, all CREATE TABLE statements) in
// the database layer rather than scattering DDL across repositories.
const schema = `
CREATE TABLE IF NOT EXISTS coin_data (
	aligned_time              INTEGER NOT NULL,
	asset_id                  TEXT    NOT NULL,
	symbol                    TEXT,
	display_name              TEXT,
	icon_url                  TEXT,
	price                     TEXT,
	market_cap                TEXT,
	market_cap_rank           INTEGER,
	fully_diluted_valuation   TEXT,
	total_volume              TEXT,
	circulating_supply        TEXT,
	max_supply                TEXT,
	high_24h                  TEXT,
	low_24h                   TEXT,
	price_change_24h          TEXT,
	price_change_percentage_24h TEXT,
	market_cap_change_24h     TEXT,
	market_cap_change_percentage_24h TEXT,
	ath                       TEXT,
	ath_change_percentage     TEXT,
	ath_date                  TEXT,
	atl                       TEXT,
	atl_change_percentage     TEXT,
	atl_date                  TEXT,
	raw_time                  INTEGER NOT NULL,
	row_created_at            INTEGER NOT NULL,
	PRIMARY KEY (aligned_time, asset_id)
);
CREATE INDEX IF NOT EXISTS idx_coin_data_asset_id ON coin_data(asset_id);
CREATE INDEX IF NOT EXISTS idx_coin_data_aligned_time_desc ON coin_data(aligned_time DESC);

CREATE TABLE IF NOT EXISTS indicator_data (
	aligned_time    INTEGER NOT NULL,
	asset_id        TEXT    NOT NULL,
	indicator_name  TEXT    NOT NULL,
	timeframe       TEXT    NOT NULL,
	value           TEXT    NOT NULL,
	computed_at     INTEGER NOT NULL,
	PRIMARY KEY (aligned_time, asset_id, indicator_name, timeframe)
);
CREATE INDEX IF NOT EXISTS idx_indicator_data_asset_id ON indicator_data(asset_id);

CREATE TABLE IF NOT EXISTS sync_log (
	tick_id           TEXT PRIMARY KEY,
	aligned_time      INTEGER NOT NULL,
	started_at        INTEGER NOT NULL,
	ended_at          INTEGER,
	pages_attempted   INTEGER NOT NULL DEFAULT 0,
	pages_succeeded   INTEGER NOT NULL DEFAULT 0,
	rows_written      INTEGER NOT NULL DEFAULT 0,
	rows_skipped      INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	first_error       TEXT
);
`
