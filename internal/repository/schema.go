package repository

// Schema creates the tables, indexes and triggers the Postgres repositories
// rely on. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS contests (
		id UUID PRIMARY KEY,
		title VARCHAR(200) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_at TIMESTAMPTZ NOT NULL,
		end_at TIMESTAMPTZ NOT NULL,
		prize_amount NUMERIC(14, 2) NOT NULL DEFAULT 0 CHECK (prize_amount >= 0),
		max_participants INTEGER CHECK (max_participants IS NULL OR max_participants > 0),
		status VARCHAR(20) NOT NULL CHECK (status IN ('draft', 'upcoming', 'active', 'completed')),
		status_forced BOOLEAN NOT NULL DEFAULT false,
		frozen_at TIMESTAMPTZ,
		archived_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (end_at > start_at)
	)`,

	`CREATE TABLE IF NOT EXISTS entries (
		id UUID PRIMARY KEY,
		contest_id UUID NOT NULL REFERENCES contests(id) ON DELETE CASCADE,
		participant_id VARCHAR(255) NOT NULL,
		title VARCHAR(200) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		media_ref TEXT NOT NULL,
		moderation_state VARCHAR(20) NOT NULL CHECK (moderation_state IN ('pending', 'approved', 'rejected')),
		moderated_by VARCHAR(255),
		moderated_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// A rejected entry frees the participant to submit again
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_one_per_participant
		ON entries(contest_id, participant_id) WHERE moderation_state <> 'rejected'`,
	`CREATE INDEX IF NOT EXISTS idx_entries_contest ON entries(contest_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS ledger_records (
		id UUID PRIMARY KEY,
		contest_id UUID NOT NULL REFERENCES contests(id) ON DELETE RESTRICT,
		entry_id UUID NOT NULL REFERENCES entries(id) ON DELETE RESTRICT,
		voter VARCHAR(255) NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		source VARCHAR(10) NOT NULL CHECK (source IN ('free', 'paid')),
		payment_ref VARCHAR(255),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK ((source = 'paid') = (payment_ref IS NOT NULL))
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_payment_ref
		ON ledger_records(payment_ref) WHERE payment_ref IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entry ON ledger_records(entry_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_contest ON ledger_records(contest_id)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_free_voter
		ON ledger_records(entry_id, voter, created_at DESC) WHERE source = 'free'`,

	// The ledger is append-only
	`CREATE OR REPLACE FUNCTION reject_ledger_mutation() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'ledger_records is append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS ledger_records_immutable ON ledger_records`,
	`CREATE TRIGGER ledger_records_immutable
		BEFORE UPDATE OR DELETE ON ledger_records
		FOR EACH ROW EXECUTE FUNCTION reject_ledger_mutation()`,

	`CREATE TABLE IF NOT EXISTS payment_intents (
		id UUID PRIMARY KEY,
		voter VARCHAR(255) NOT NULL,
		contest_id UUID NOT NULL REFERENCES contests(id),
		entry_id UUID NOT NULL REFERENCES entries(id),
		package_id VARCHAR(50) NOT NULL,
		package_price NUMERIC(14, 2) NOT NULL CHECK (package_price > 0),
		package_currency CHAR(3) NOT NULL,
		package_credits BIGINT NOT NULL CHECK (package_credits > 0),
		order_ref VARCHAR(255) NOT NULL UNIQUE,
		status VARCHAR(20) NOT NULL CHECK (status IN ('created', 'captured', 'failed', 'expired')),
		capture_id VARCHAR(255),
		failure_reason TEXT,
		capture_claimed_at TIMESTAMPTZ,
		late_capture_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_payment_intents_status ON payment_intents(status, expires_at)`,
}

// DropSchema removes everything Schema creates
var DropSchema = []string{
	`DROP TABLE IF EXISTS payment_intents CASCADE`,
	`DROP TABLE IF EXISTS ledger_records CASCADE`,
	`DROP TABLE IF EXISTS entries CASCADE`,
	`DROP TABLE IF EXISTS contests CASCADE`,
	`DROP FUNCTION IF EXISTS reject_ledger_mutation() CASCADE`,
}
