package postgres

const campaignColumns = `
    id, identity, title, location, max_per_run,
    schedule_type, interval_days, max_runs,
    status, cancel_requested,
    runs_completed, last_run_at, next_run_at, last_error,
    created_at, updated_at`

const queryInsertCampaign = `
INSERT INTO campaigns (
    id, identity, title, location, max_per_run,
    schedule_type, interval_days, max_runs,
    status, cancel_requested,
    runs_completed, next_run_at, last_error,
    created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

const queryGetCampaignByID = `
SELECT` + campaignColumns + `
FROM campaigns
WHERE id = $1
`

const queryListCampaigns = `
SELECT` + campaignColumns + `
FROM campaigns
WHERE identity = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryGetDueCampaigns = `
SELECT` + campaignColumns + `
FROM campaigns
WHERE status = 'scheduled'
  AND next_run_at <= $1
ORDER BY next_run_at ASC, id ASC
LIMIT $2
`

const queryMarkRunning = `
UPDATE campaigns
SET status = 'running', updated_at = $2
WHERE id = $1
  AND status = 'scheduled'
`

const queryFinalizeRun = `
UPDATE campaigns
SET status = CASE WHEN cancel_requested THEN 'cancelled' ELSE $2 END,
    runs_completed = runs_completed + $3,
    last_run_at = $4,
    next_run_at = COALESCE($5, next_run_at),
    last_error = $6,
    cancel_requested = false,
    updated_at = $4
WHERE id = $1
  AND status = 'running'
RETURNING status
`

const queryGetCampaignStatus = `
SELECT status FROM campaigns WHERE id = $1
`

const queryCancelScheduled = `
UPDATE campaigns
SET status = 'cancelled', updated_at = $2
WHERE id = $1
  AND status = 'scheduled'
`

const queryRequestCancelRunning = `
UPDATE campaigns
SET cancel_requested = true, updated_at = $2
WHERE id = $1
  AND status = 'running'
`

const queryResetStuckCampaigns = `
WITH stuck AS (
    SELECT id FROM campaigns
    WHERE status = 'running'
      AND updated_at < $1
    ORDER BY updated_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE campaigns
SET status = 'scheduled', updated_at = NOW()
FROM stuck
WHERE campaigns.id = stuck.id
RETURNING campaigns.id
`

const queryInsertPosting = `
INSERT INTO postings (
    fingerprint, source, external_id,
    title, company, location, description, url,
    discovered_at, last_seen_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryTouchPosting = `
UPDATE postings SET last_seen_at = $2 WHERE fingerprint = $1
`

const queryMatchPostings = `
SELECT
    fingerprint, source, external_id,
    title, company, location, description, url,
    discovered_at, last_seen_at
FROM postings
WHERE ($1 = '' OR title ILIKE '%' || $1 || '%')
  AND ($2 = '' OR location ILIKE '%' || $2 || '%')
ORDER BY discovered_at DESC, fingerprint ASC
LIMIT $3
`

const queryCountPostings = `
SELECT COUNT(*) FROM postings
`

const queryCountPostingsSince = `
SELECT COUNT(*) FROM postings WHERE discovered_at >= $1
`

const queryCountPostingsBySource = `
SELECT source, COUNT(*) FROM postings GROUP BY source
`

const queryInsertApplication = `
INSERT INTO applications (
    id, campaign_id, fingerprint, identity, content_ref, outcome, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryHasApplication = `
SELECT EXISTS (
    SELECT 1 FROM applications WHERE campaign_id = $1 AND fingerprint = $2
)
`

const queryInsertRun = `
INSERT INTO campaign_runs (
    id, campaign_id, started_at, finished_at, submitted, skipped, failed, error
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryListRuns = `
SELECT id, campaign_id, started_at, finished_at, submitted, skipped, failed, error
FROM campaign_runs
WHERE campaign_id = $1
ORDER BY started_at DESC
LIMIT $2 OFFSET $3
`
