package postgres

const queryInsertEvent = `
INSERT INTO trigger_events (id, kind, action, labels, pr_number, ref, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryInsertRun = `
INSERT INTO pipeline_runs (id, event_id, group_key, status, failed_stage, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryUpdateRunStatus = `
UPDATE pipeline_runs
SET status = $1,
    failed_stage = $2,
    started_at = COALESCE(started_at, CASE WHEN $1 = 'running' THEN NOW() END),
    finished_at = CASE WHEN $1 IN ('succeeded', 'failed', 'cancelled') THEN NOW() ELSE finished_at END
WHERE id = $3
  AND status NOT IN ('succeeded', 'failed', 'cancelled')
`

const queryGetRunStatus = `
SELECT status FROM pipeline_runs WHERE id = $1
`

const queryInsertStageResult = `
INSERT INTO stage_results (run_id, stage, exit_code, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5)
`

const queryGetRun = `
SELECT id, event_id, group_key, status, failed_stage, created_at, started_at, finished_at
FROM pipeline_runs
WHERE id = $1
`

const queryGetStageResults = `
SELECT stage, exit_code, started_at, finished_at
FROM stage_results
WHERE run_id = $1
ORDER BY started_at ASC
`

const queryListRuns = `
SELECT id, event_id, group_key, status, failed_stage, created_at, started_at, finished_at
FROM pipeline_runs
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

const queryGetOrphanedRuns = `
SELECT id, event_id, group_key, status, failed_stage, created_at, started_at, finished_at
FROM pipeline_runs
WHERE status IN ('pending', 'running')
  AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`
