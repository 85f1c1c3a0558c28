// Package postgres implements the control plane's Persisted Store: Lab
// Intents, the Exploit Library, Missions with their step logs, Validation
// Results, and Network Lease history (spec.md §6 "Persisted state").
// Resource state itself is never written here — it is derived from polling
// and lives only in the Lab Registry.
//
// Grounded on the teacher's internal/app/storage/postgres.Store: one struct
// wrapping a database handle, plain database/sql-style parameterized
// queries (no query builder), google/uuid for generated ids. The handle is
// jmoiron/sqlx.DB instead of database/sql.DB so callers needing struct
// scanning (ListExploits, ListIntents) can use sqlx's Select instead of a
// manual rows.Scan loop.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/r3e-network/cyberrange/internal/domain/exploit"
	"github.com/r3e-network/cyberrange/internal/domain/intent"
	"github.com/r3e-network/cyberrange/internal/domain/lease"
	"github.com/r3e-network/cyberrange/internal/domain/mission"
	"github.com/r3e-network/cyberrange/internal/errs"
)

// Store implements the Persisted Store against PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// Open opens dsn with the postgres driver and wraps it as a Store.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.BackendUnreachable, "connect to persisted store", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open handle, letting callers who opened it via
// internal/platform/database.Open (which also pings) reuse that connection.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

type intentRow struct {
	LabID     string `db:"lab_id"`
	IntentID  string `db:"intent_id"`
	MissionID string `db:"mission_id"`
	Nodes     []byte `db:"nodes"`
}

// SaveIntent upserts a Lab Intent. Intent is immutable after acceptance per
// spec.md §3, so a second Save with the same LabID but a different IntentID
// represents a reconfiguration, not a mutation in place.
func (s *Store) SaveIntent(ctx context.Context, in intent.LabIntent) error {
	nodes, err := json.Marshal(in.Nodes)
	if err != nil {
		return errs.Wrap(errs.Internal, "encode lab intent nodes", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lab_intents (lab_id, intent_id, mission_id, nodes, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (lab_id) DO UPDATE
		SET intent_id = EXCLUDED.intent_id, mission_id = EXCLUDED.mission_id,
		    nodes = EXCLUDED.nodes, updated_at = now()
	`, in.LabID, in.IntentID, in.MissionID, nodes)
	if err != nil {
		return errs.Wrap(errs.Internal, "save lab intent", err)
	}
	return nil
}

// GetIntent returns the Lab Intent for labID.
func (s *Store) GetIntent(ctx context.Context, labID string) (intent.LabIntent, error) {
	var row intentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT lab_id, intent_id, mission_id, nodes FROM lab_intents WHERE lab_id = $1
	`, labID)
	if err == sql.ErrNoRows {
		return intent.LabIntent{}, errs.New(errs.ResourceMissing, "lab intent not found").WithResource(labID)
	}
	if err != nil {
		return intent.LabIntent{}, errs.Wrap(errs.Internal, "get lab intent", err)
	}
	return rowToIntent(row)
}

// ListIntents returns every known Lab Intent, ordered by lab id.
func (s *Store) ListIntents(ctx context.Context) ([]intent.LabIntent, error) {
	var rows []intentRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT lab_id, intent_id, mission_id, nodes FROM lab_intents ORDER BY lab_id
	`); err != nil {
		return nil, errs.Wrap(errs.Internal, "list lab intents", err)
	}
	out := make([]intent.LabIntent, 0, len(rows))
	for _, r := range rows {
		in, err := rowToIntent(r)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// DeleteIntent removes labID's intent. It is not an error to delete an
// intent that was never saved.
func (s *Store) DeleteIntent(ctx context.Context, labID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM lab_intents WHERE lab_id = $1`, labID); err != nil {
		return errs.Wrap(errs.Internal, "delete lab intent", err)
	}
	return nil
}

func rowToIntent(r intentRow) (intent.LabIntent, error) {
	var nodes []intent.NodeSpec
	if err := json.Unmarshal(r.Nodes, &nodes); err != nil {
		return intent.LabIntent{}, errs.Wrap(errs.Internal, "decode lab intent nodes", err)
	}
	return intent.LabIntent{LabID: r.LabID, IntentID: r.IntentID, MissionID: r.MissionID, Nodes: nodes}, nil
}

type exploitRow struct {
	Name        string `db:"name"`
	Type        string `db:"type"`
	Severity    string `db:"severity"`
	TargetOS    string `db:"target_os"`
	ScriptBody  string `db:"script_body"`
	PlaybookRef string `db:"playbook_ref"`
	Variables   []byte `db:"variables"`
	CVE         string `db:"cve"`
	FatalOnFail bool   `db:"fatal_on_fail"`
}

// SeedExploit upserts one exploit into the library, used by `rangectl init`
// to load internal/seed/exploits.yaml.
func (s *Store) SeedExploit(ctx context.Context, e exploit.Exploit) error {
	if err := e.Validate(); err != nil {
		return errs.Wrap(errs.ConfigInvalid, "invalid exploit definition", err)
	}
	vars, err := json.Marshal(e.Variables)
	if err != nil {
		return errs.Wrap(errs.Internal, "encode exploit variables", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exploits (name, type, severity, target_os, script_body, playbook_ref, variables, cve, fatal_on_fail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE
		SET type = EXCLUDED.type, severity = EXCLUDED.severity, target_os = EXCLUDED.target_os,
		    script_body = EXCLUDED.script_body, playbook_ref = EXCLUDED.playbook_ref,
		    variables = EXCLUDED.variables, cve = EXCLUDED.cve, fatal_on_fail = EXCLUDED.fatal_on_fail
	`, e.Name, string(e.Type), string(e.Severity), string(e.TargetOS), e.ScriptBody, e.PlaybookRef, vars, e.CVE, e.FatalOnFail)
	if err != nil {
		return errs.Wrap(errs.Internal, "seed exploit", err)
	}
	return nil
}

// GetExploit returns one exploit by its stable name.
func (s *Store) GetExploit(ctx context.Context, name string) (exploit.Exploit, error) {
	var row exploitRow
	err := s.db.GetContext(ctx, &row, `
		SELECT name, type, severity, target_os, script_body, playbook_ref, variables, cve, fatal_on_fail
		FROM exploits WHERE name = $1
	`, name)
	if err == sql.ErrNoRows {
		return exploit.Exploit{}, errs.New(errs.ResourceMissing, "exploit not found").WithResource(name)
	}
	if err != nil {
		return exploit.Exploit{}, errs.Wrap(errs.Internal, "get exploit", err)
	}
	return rowToExploit(row)
}

// ListExploits returns the full exploit library, ordered by name.
func (s *Store) ListExploits(ctx context.Context) ([]exploit.Exploit, error) {
	var rows []exploitRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT name, type, severity, target_os, script_body, playbook_ref, variables, cve, fatal_on_fail
		FROM exploits ORDER BY name
	`); err != nil {
		return nil, errs.Wrap(errs.Internal, "list exploits", err)
	}
	out := make([]exploit.Exploit, 0, len(rows))
	for _, r := range rows {
		e, err := rowToExploit(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func rowToExploit(r exploitRow) (exploit.Exploit, error) {
	var vars map[string]string
	if len(r.Variables) > 0 {
		if err := json.Unmarshal(r.Variables, &vars); err != nil {
			return exploit.Exploit{}, errs.Wrap(errs.Internal, "decode exploit variables", err)
		}
	}
	return exploit.Exploit{
		Name: r.Name, Type: exploit.Type(r.Type), Severity: exploit.Severity(r.Severity),
		TargetOS: exploit.OSFamily(r.TargetOS), ScriptBody: r.ScriptBody, PlaybookRef: r.PlaybookRef,
		Variables: vars, CVE: r.CVE, FatalOnFail: r.FatalOnFail,
	}, nil
}

type missionRow struct {
	ID           string `db:"id"`
	PlatformKind string `db:"platform_kind"`
	TargetVMID   string `db:"target_vm_id"`
	Ephemeral    []byte `db:"ephemeral_spec"`
	ExploitNames []byte `db:"exploit_names"`
	State        string `db:"state"`
	Progress     int    `db:"progress"`
	TargetIP     string `db:"target_ip"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// SaveMission upserts a mission's top-level record (not its step log, which
// AppendStep handles incrementally so concurrent readers never see a
// half-written log per spec.md §5's per-mission append lock).
func (s *Store) SaveMission(ctx context.Context, m mission.Mission) error {
	ephemeral, err := json.Marshal(m.Ephemeral)
	if err != nil {
		return errs.Wrap(errs.Internal, "encode mission ephemeral spec", err)
	}
	names, err := json.Marshal(m.ExploitNames)
	if err != nil {
		return errs.Wrap(errs.Internal, "encode mission exploit names", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO missions (id, platform_kind, target_vm_id, ephemeral_spec, exploit_names, state, progress, target_ip, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state, progress = EXCLUDED.progress, target_ip = EXCLUDED.target_ip, updated_at = now()
	`, m.ID, m.PlatformKind, m.TargetVMID, ephemeral, names, string(m.State), m.Progress, m.TargetIP)
	if err != nil {
		return errs.Wrap(errs.Internal, "save mission", err)
	}
	return nil
}

// AppendStep appends one step log entry with a single INSERT. It opens no
// transaction and takes no per-mission lock of its own; internal/mission.Engine
// appends a mission's steps one at a time from its step loop.
func (s *Store) AppendStep(ctx context.Context, missionID string, seq int, step mission.StepLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mission_steps (mission_id, seq, exploit_name, outcome, stdout, stderr, exit_code, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, missionID, seq, step.ExploitName, string(step.Outcome), step.Stdout, step.Stderr, step.ExitCode, step.Error, step.StartedAt, step.FinishedAt)
	if err != nil {
		return errs.Wrap(errs.Internal, "append mission step", err)
	}
	return nil
}

// GetMission returns one mission by id, without its step log (callers that
// need the log call Steps separately, mirroring the registry's
// snapshot-on-demand philosophy instead of always paying for a join).
func (s *Store) GetMission(ctx context.Context, id string) (mission.Mission, error) {
	var row missionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, platform_kind, target_vm_id, ephemeral_spec, exploit_names, state, progress, target_ip, created_at, updated_at
		FROM missions WHERE id = $1
	`, id)
	if err == sql.ErrNoRows {
		return mission.Mission{}, errs.New(errs.ResourceMissing, "mission not found").WithResource(id)
	}
	if err != nil {
		return mission.Mission{}, errs.Wrap(errs.Internal, "get mission", err)
	}
	return rowToMission(row)
}

// ListMissions returns every mission, most recently created first.
func (s *Store) ListMissions(ctx context.Context) ([]mission.Mission, error) {
	var rows []missionRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, platform_kind, target_vm_id, ephemeral_spec, exploit_names, state, progress, target_ip, created_at, updated_at
		FROM missions ORDER BY created_at DESC
	`); err != nil {
		return nil, errs.Wrap(errs.Internal, "list missions", err)
	}
	out := make([]mission.Mission, 0, len(rows))
	for _, r := range rows {
		m, err := rowToMission(r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Steps returns a mission's step log in execution order.
func (s *Store) Steps(ctx context.Context, missionID string) ([]mission.StepLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT exploit_name, outcome, stdout, stderr, exit_code, error, started_at, finished_at
		FROM mission_steps WHERE mission_id = $1 ORDER BY seq
	`, missionID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list mission steps", err)
	}
	defer rows.Close()

	var out []mission.StepLog
	for rows.Next() {
		var step mission.StepLog
		if err := rows.Scan(&step.ExploitName, &step.Outcome, &step.Stdout, &step.Stderr, &step.ExitCode, &step.Error, &step.StartedAt, &step.FinishedAt); err != nil {
			return nil, errs.Wrap(errs.Internal, "scan mission step", err)
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

func rowToMission(r missionRow) (mission.Mission, error) {
	var ephemeral mission.EphemeralVMSpec
	if len(r.Ephemeral) > 0 {
		if err := json.Unmarshal(r.Ephemeral, &ephemeral); err != nil {
			return mission.Mission{}, errs.Wrap(errs.Internal, "decode mission ephemeral spec", err)
		}
	}
	var names []string
	if len(r.ExploitNames) > 0 {
		if err := json.Unmarshal(r.ExploitNames, &names); err != nil {
			return mission.Mission{}, errs.Wrap(errs.Internal, "decode mission exploit names", err)
		}
	}
	return mission.Mission{
		ID: r.ID, PlatformKind: r.PlatformKind, TargetVMID: r.TargetVMID, Ephemeral: ephemeral,
		ExploitNames: names, State: mission.State(r.State), Progress: r.Progress, TargetIP: r.TargetIP,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}, nil
}

// SaveValidationResult records one verification probe's outcome.
func (s *Store) SaveValidationResult(ctx context.Context, missionID string, v mission.ValidationResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validation_results (mission_id, test_name, outcome, latency_ms, evidence, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, missionID, v.TestName, string(v.Outcome), v.Latency.Milliseconds(), v.Evidence, v.Timestamp)
	if err != nil {
		return errs.Wrap(errs.Internal, "save validation result", err)
	}
	return nil
}

// ValidationResults returns every recorded probe outcome for missionID.
func (s *Store) ValidationResults(ctx context.Context, missionID string) ([]mission.ValidationResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT test_name, outcome, latency_ms, evidence, observed_at
		FROM validation_results WHERE mission_id = $1 ORDER BY observed_at
	`, missionID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list validation results", err)
	}
	defer rows.Close()

	var out []mission.ValidationResult
	for rows.Next() {
		var v mission.ValidationResult
		var latencyMs int64
		v.MissionID = missionID
		if err := rows.Scan(&v.TestName, &v.Outcome, &latencyMs, &v.Evidence, &v.Timestamp); err != nil {
			return nil, errs.Wrap(errs.Internal, "scan validation result", err)
		}
		v.Latency = time.Duration(latencyMs) * time.Millisecond
		out = append(out, v)
	}
	return out, rows.Err()
}

// RecordLeaseAcquired appends an acquired-lease row to the lease history.
func (s *Store) RecordLeaseAcquired(ctx context.Context, l lease.Lease) error {
	id := l.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO network_lease_history (id, vlan, cidr, gateway_ip, lab_id, acquired_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, l.VLAN, l.CIDR, l.GatewayIP, l.LabID, l.AcquiredAt)
	if err != nil {
		return errs.Wrap(errs.Internal, "record lease acquired", err)
	}
	return nil
}

// RecordLeaseReleased marks a lease's history row as released.
func (s *Store) RecordLeaseReleased(ctx context.Context, leaseID string, releasedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE network_lease_history SET released_at = $2 WHERE id = $1
	`, leaseID, releasedAt)
	if err != nil {
		return errs.Wrap(errs.Internal, "record lease released", err)
	}
	return nil
}
