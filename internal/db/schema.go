package db

// SchemaSQL defines the archive tables. Every statement is idempotent.
const SchemaSQL = `
    -- ==========================================================================
    -- HARVEST_JOB TABLE (one row per completed job)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS harvest_job SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS method ON harvest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS regions ON harvest_job TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS services ON harvest_job TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS status ON harvest_job TYPE string;
    DEFINE FIELD IF NOT EXISTS total ON harvest_job TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS source_stats ON harvest_job TYPE array<object> FLEXIBLE;
    -- Note: Must REMOVE then DEFINE to ensure FLEXIBLE is set (IF NOT EXISTS won't update existing field)
    REMOVE FIELD IF EXISTS source_stats.* ON harvest_job;
    DEFINE FIELD source_stats.* ON harvest_job TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created ON harvest_job TYPE datetime;
    DEFINE FIELD IF NOT EXISTS finished ON harvest_job TYPE datetime;
    DEFINE FIELD IF NOT EXISTS archived ON harvest_job TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS harvest_job_finished ON harvest_job FIELDS finished;

    -- ==========================================================================
    -- FACILITY TABLE (keyed by a hash of the dedup key)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS facility SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS prefecture ON facility TYPE string;
    DEFINE FIELD IF NOT EXISTS jigyousho_number ON facility TYPE string;
    DEFINE FIELD IF NOT EXISTS name ON facility TYPE string;
    DEFINE FIELD IF NOT EXISTS postal_code ON facility TYPE string;
    DEFINE FIELD IF NOT EXISTS address ON facility TYPE string;
    DEFINE FIELD IF NOT EXISTS phone ON facility TYPE string;
    DEFINE FIELD IF NOT EXISTS fax ON facility TYPE string;
    DEFINE FIELD IF NOT EXISTS service_type ON facility TYPE string;
    DEFINE FIELD IF NOT EXISTS corporate_name ON facility TYPE string;
    DEFINE FIELD IF NOT EXISTS corporate_type ON facility TYPE string;
    DEFINE FIELD IF NOT EXISTS user_count ON facility TYPE string;
    -- TODO: Use set<string> when Go SDK supports CBOR tag 56 (v3.0 set type)
    DEFINE FIELD IF NOT EXISTS sources ON facility TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS last_job ON facility TYPE string;
    DEFINE FIELD IF NOT EXISTS first_seen ON facility TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON facility TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS facility_prefecture ON facility FIELDS prefecture;
    DEFINE INDEX IF NOT EXISTS facility_number ON facility FIELDS jigyousho_number;
    DEFINE INDEX IF NOT EXISTS facility_last_job ON facility FIELDS last_job;
`
