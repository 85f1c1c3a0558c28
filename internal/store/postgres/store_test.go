package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/cyberrange/internal/domain/exploit"
	"github.com/r3e-network/cyberrange/internal/domain/intent"
	"github.com/r3e-network/cyberrange/internal/domain/mission"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: sqlx.NewDb(db, "postgres")}, mock
}

func TestSaveAndGetIntent(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	in := intent.LabIntent{
		LabID: "L1", IntentID: "deploy-1",
		Nodes: []intent.NodeSpec{{Name: "GW", Kind: intent.NodeGateway}},
	}
	nodesJSON, _ := json.Marshal(in.Nodes)

	mock.ExpectExec("INSERT INTO lab_intents").
		WithArgs(in.LabID, in.IntentID, in.MissionID, nodesJSON).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.SaveIntent(ctx, in); err != nil {
		t.Fatalf("save intent: %v", err)
	}

	mock.ExpectQuery("SELECT lab_id, intent_id, mission_id, nodes FROM lab_intents").
		WithArgs(in.LabID).
		WillReturnRows(sqlmock.NewRows([]string{"lab_id", "intent_id", "mission_id", "nodes"}).
			AddRow(in.LabID, in.IntentID, "", nodesJSON))

	got, err := store.GetIntent(ctx, in.LabID)
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if got.LabID != in.LabID || len(got.Nodes) != 1 || got.Nodes[0].Name != "GW" {
		t.Fatalf("unexpected intent round-trip: %+v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetIntentNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT lab_id, intent_id, mission_id, nodes FROM lab_intents").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"lab_id", "intent_id", "mission_id", "nodes"}))

	_, err := store.GetIntent(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestSeedExploitRejectsInvalidExploit(t *testing.T) {
	store, _ := newMockStore(t)
	bad := exploit.Exploit{Name: "bad", Type: exploit.TypeWeb, TargetOS: exploit.OSAny}
	if err := store.SeedExploit(context.Background(), bad); err == nil {
		t.Fatalf("expected validation error for exploit with neither script nor playbook")
	}
}

func TestSaveMissionAndAppendStep(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	m := mission.Mission{ID: "m1", PlatformKind: "onprem", ExploitNames: []string{"e1"}, State: mission.StateInjecting, Progress: 50}
	ephemeralJSON, _ := json.Marshal(m.Ephemeral)
	namesJSON, _ := json.Marshal(m.ExploitNames)

	mock.ExpectExec("INSERT INTO missions").
		WithArgs(m.ID, m.PlatformKind, m.TargetVMID, ephemeralJSON, namesJSON, string(m.State), m.Progress, m.TargetIP).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.SaveMission(ctx, m); err != nil {
		t.Fatalf("save mission: %v", err)
	}

	step := mission.StepLog{ExploitName: "e1", Outcome: mission.StepSuccess, StartedAt: time.Now(), FinishedAt: time.Now()}
	mock.ExpectExec("INSERT INTO mission_steps").
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.AppendStep(ctx, m.ID, 0, step); err != nil {
		t.Fatalf("append step: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
