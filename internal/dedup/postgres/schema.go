package postgres

// A withdrawal id occupies exactly one row, so the processed and pending sets are disjoint by construction.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS relay_withdrawals (
	id TEXT PRIMARY KEY,
	set_name TEXT NOT NULL CHECK (set_name IN ('processed', 'pending-eth', 'pending-token')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS relay_withdrawals_set_name_idx ON relay_withdrawals (set_name);

CREATE TABLE IF NOT EXISTS relay_cursor (
	name TEXT PRIMARY KEY,
	block BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
