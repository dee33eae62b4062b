package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reconcile/internal/api"
	"reconcile/internal/reconcile"
	"reconcile/internal/testsupport"
)

func seedPlaces(t *testing.T, env *cliTestEnv) {
	t.Helper()
	testsupport.ImportValues(t, env.store, "Place", "name", "Oslo", "Bergen", "Moss")
	env.authority.Respond("Oslo", reconcile.Candidate{ID: "http://example.org/entity/Q585", Name: "Oslo", Score: 0.99})
	env.authority.Respond("Bergen",
		reconcile.Candidate{ID: "http://example.org/entity/Q26793", Name: "Bergen", Score: 0.80},
		reconcile.Candidate{ID: "http://example.org/entity/Q1", Name: "Bergen op Zoom", Score: 0.60},
	)
}

func TestRunFollowsToCompletion(t *testing.T) {
	env := setupCLITestEnv(t)
	seedPlaces(t, env)

	out := env.run(t, "", "run", "Place", "name").mustSucceed(t)
	if !strings.Contains(out, "completed: 1 auto-accepted, 1 need review, 1 unmatched") {
		t.Fatalf("unexpected run output:\n%s", out)
	}

	status := env.run(t, "", "status").mustSucceed(t)
	if !strings.Contains(status, "Place.name") || !strings.Contains(status, "completed") {
		t.Fatalf("status table missing operation:\n%s", status)
	}
}

func TestRunDetachedPrintsOperationID(t *testing.T) {
	env := setupCLITestEnv(t)
	seedPlaces(t, env)

	out := env.run(t, "", "run", "Place", "name", "--detach", "--json").mustSucceed(t)
	var started api.StartResponse
	if err := json.Unmarshal([]byte(out), &started); err != nil || started.OperationID == "" {
		t.Fatalf("unexpected detached output %q: %v", out, err)
	}

	follow := env.run(t, "", "status", started.OperationID, "--follow").mustSucceed(t)
	if !strings.Contains(follow, "completed") {
		t.Fatalf("follow output:\n%s", follow)
	}
	cancel := env.run(t, "", "cancel", started.OperationID).mustSucceed(t)
	if !strings.Contains(cancel, "already completed") {
		t.Fatalf("cancel output:\n%s", cancel)
	}
}

func TestRowsFiltersByBucket(t *testing.T) {
	env := setupCLITestEnv(t)
	seedPlaces(t, env)
	env.run(t, "", "run", "Place", "name").mustSucceed(t)

	out := env.run(t, "", "rows", "Place", "name", "--bucket", "needs-review", "--json").mustSucceed(t)
	var rows api.RowsResponse
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows.Rows) != 1 || rows.Rows[0].SourceValue != "Bergen" {
		t.Fatalf("rows = %+v", rows.Rows)
	}
	if rows.Summary.Total != 3 {
		t.Fatalf("summary counts the full set, got %+v", rows.Summary)
	}

	table := env.run(t, "", "rows", "Place", "name").mustSucceed(t)
	for _, want := range []string{"Oslo", "Bergen", "Moss", "auto-accepted"} {
		if !strings.Contains(table, want) {
			t.Fatalf("rows table missing %q:\n%s", want, table)
		}
	}

	if res := env.run(t, "", "rows", "Place", "name", "--bucket", "maybe"); res.err == nil {
		t.Fatal("expected invalid bucket error")
	}
}

func TestAcceptRequiresCascadeWithoutTerminal(t *testing.T) {
	env := setupCLITestEnv(t)
	seedPlaces(t, env)
	allowPrompt(t, false)
	env.run(t, "", "run", "Place", "name").mustSucceed(t)
	env.run(t, "", "deps", "add", "Event", "Place").mustSucceed(t)
	env.run(t, "", "deps", "materialize", "Event").mustSucceed(t)

	res := env.run(t, "", "accept", "Place", "name", "Bergen")
	if res.err == nil || !strings.Contains(res.err.Error(), "--cascade") || !strings.Contains(res.err.Error(), "Event") {
		t.Fatalf("expected cascade hint, got %v", res.err)
	}

	out := env.run(t, "", "accept", "Place", "name", "Bergen", "--cascade").mustSucceed(t)
	if !strings.Contains(out, "Unmaterialized: Event") {
		t.Fatalf("accept output:\n%s", out)
	}
	again := env.run(t, "", "accept", "Place", "name", "Bergen").mustSucceed(t)
	if !strings.Contains(again, "already up to date") {
		t.Fatalf("repeat accept output:\n%s", again)
	}
}

func TestAcceptConfirmsCascadeInteractively(t *testing.T) {
	env := setupCLITestEnv(t)
	seedPlaces(t, env)
	allowPrompt(t, true)
	env.run(t, "", "run", "Place", "name").mustSucceed(t)
	env.run(t, "", "deps", "add", "Event", "Place").mustSucceed(t)
	env.run(t, "", "deps", "materialize", "Event").mustSucceed(t)

	declined := env.run(t, "n\n", "accept", "Place", "name", "Bergen", "--candidate", "http://example.org/entity/Q1")
	if declined.err == nil {
		t.Fatal("expected declined confirmation to fail")
	}

	out := env.run(t, "y\n", "accept", "Place", "name", "Bergen", "--candidate", "http://example.org/entity/Q1").mustSucceed(t)
	if !strings.Contains(out, "Continue? [y/N]") || !strings.Contains(out, "Unmaterialized: Event") {
		t.Fatalf("interactive accept output:\n%s", out)
	}
	rowsOut := env.run(t, "", "rows", "Place", "name", "--query", "Bergen", "--json").mustSucceed(t)
	var rows api.RowsResponse
	if err := json.Unmarshal([]byte(rowsOut), &rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows.Rows) != 1 || rows.Rows[0].TargetID == nil || rows.Rows[0].TargetID.String() != "Q1" {
		t.Fatalf("Bergen row = %+v", rows.Rows)
	}
}

func TestUnmatchAndBulkCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	seedPlaces(t, env)
	env.run(t, "", "run", "Place", "name").mustSucceed(t)

	env.run(t, "", "unmatch", "Place", "name", "Moss", "--note", "historic parish").mustSucceed(t)
	wnm := env.run(t, "", "rows", "Place", "name", "--bucket", "will-not-match").mustSucceed(t)
	if !strings.Contains(wnm, "Moss") || !strings.Contains(wnm, "historic parish") {
		t.Fatalf("will-not-match rows:\n%s", wnm)
	}

	out := env.run(t, "", "bulk-accept", "Place", "name").mustSucceed(t)
	if !strings.Contains(out, "Accepted 1, skipped 0, failed 0") {
		t.Fatalf("bulk-accept output:\n%s", out)
	}

	rejected := env.run(t, "", "bulk-reject", "Place", "name", "Bergen", "Moss").mustSucceed(t)
	if !strings.Contains(rejected, "Rejected 2") {
		t.Fatalf("bulk-reject output:\n%s", rejected)
	}

	env.run(t, "", "unmatch", "Place", "name", "Moss", "--clear").mustSucceed(t)
	final := env.run(t, "", "rows", "Place", "name", "--bucket", "will-not-match", "--json").mustSucceed(t)
	var rows api.RowsResponse
	if err := json.Unmarshal([]byte(final), &rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows.Rows) != 0 {
		t.Fatalf("expected will-not-match cleared, got %+v", rows.Rows)
	}
}

func TestUnmatchReportsUnmaterializedDependents(t *testing.T) {
	env := setupCLITestEnv(t)
	seedPlaces(t, env)
	allowPrompt(t, false)
	env.run(t, "", "run", "Place", "name").mustSucceed(t)
	env.run(t, "", "deps", "add", "Event", "Place").mustSucceed(t)
	env.run(t, "", "deps", "materialize", "Event").mustSucceed(t)

	if res := env.run(t, "", "unmatch", "Place", "name", "Oslo", "--cascade"); res.err == nil || !strings.Contains(res.err.Error(), "--clear") {
		t.Fatalf("expected --cascade without --clear to fail, got %v", res.err)
	}

	out := env.run(t, "", "unmatch", "Place", "name", "Oslo").mustSucceed(t)
	if !strings.Contains(out, "Oslo: updated") || !strings.Contains(out, "Unmaterialized: Event") {
		t.Fatalf("unmatch output:\n%s", out)
	}
}

func TestImportAndExport(t *testing.T) {
	env := setupCLITestEnv(t)
	csvPath := filepath.Join(t.TempDir(), "places.csv")
	testsupport.WriteFile(t, csvPath, "id,name,country\n1,Oslo,NO\n2,Bergen,NO\n3,Oslo,NO\n4,,NO\n")

	out := env.run(t, "", "import", "Place", "name", csvPath, "--key", "id").mustSucceed(t)
	if !strings.Contains(out, "Imported 2 rows") || !strings.Contains(out, "1 duplicates") || !strings.Contains(out, "1 blank") {
		t.Fatalf("import output:\n%s", out)
	}

	env.run(t, "", "map", "Place", "name", "Oslo", "http://example.org/entity/Q585").mustSucceed(t)
	exportPath := filepath.Join(t.TempDir(), "out.csv")
	env.run(t, "", "export", "Place", "name", "--output", exportPath).mustSucceed(t)
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	records, err := reconcile.ParseExport(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("ParseExport: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("export records = %+v", records)
	}

	stdout := env.run(t, "", "export", "Place", "name").mustSucceed(t)
	if !strings.Contains(stdout, "Q585") {
		t.Fatalf("stdout export:\n%s", stdout)
	}
}

func TestSearchCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	env.authority.Respond("Oslo", reconcile.Candidate{ID: "http://example.org/entity/Q585", Name: "Oslo", Score: 0.99})

	if res := env.run(t, "", "search", "O"); res.err == nil {
		t.Fatal("expected short query error")
	}
	if len(env.authority.Queries()) != 0 {
		t.Fatalf("short query reached the authority: %v", env.authority.Queries())
	}

	out := env.run(t, "", "search", "Oslo").mustSucceed(t)
	if !strings.Contains(out, "Q585") {
		t.Fatalf("search output:\n%s", out)
	}

	interactive := env.run(t, "O\nOs\nOslo\n", "search", "--interactive").mustSucceed(t)
	if !strings.Contains(interactive, `Results for "Oslo"`) {
		t.Fatalf("interactive output:\n%s", interactive)
	}
	for _, query := range env.authority.Queries() {
		if len([]rune(query)) < 2 {
			t.Fatalf("query %q below the minimum length was sent", query)
		}
	}
}

func TestDepsCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	allowPrompt(t, false)
	env.run(t, "", "deps", "add", "Event", "Place").mustSucceed(t)
	env.run(t, "", "deps", "add", "Ticket", "Event").mustSucceed(t)
	env.run(t, "", "deps", "materialize", "Place").mustSucceed(t)
	env.run(t, "", "deps", "materialize", "Ticket").mustSucceed(t)

	if res := env.run(t, "", "deps", "add", "Place", "Ticket"); res.err == nil {
		t.Fatal("expected cycle to be rejected")
	}

	dependents := env.run(t, "", "deps", "dependents", "Place").mustSucceed(t)
	if !strings.Contains(dependents, "Event") || !strings.Contains(dependents, "Ticket") {
		t.Fatalf("dependents output:\n%s", dependents)
	}

	if res := env.run(t, "", "deps", "unmaterialize", "Place"); res.err == nil {
		t.Fatal("expected cascade requirement")
	}
	out := env.run(t, "", "deps", "unmaterialize", "Place", "--cascade").mustSucceed(t)
	if !strings.Contains(out, "Place") || !strings.Contains(out, "Ticket") {
		t.Fatalf("unmaterialize output:\n%s", out)
	}

	list := env.run(t, "", "deps", "list").mustSucceed(t)
	if strings.Contains(list, "yes") {
		t.Fatalf("nothing should remain materialized:\n%s", list)
	}
}

func TestConfigCommands(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	target := filepath.Join(home, "custom", "reconcile.toml")

	out := runCLI(t, "", "config", "init", "--path", target).mustSucceed(t)
	if !strings.Contains(out, target) {
		t.Fatalf("init output:\n%s", out)
	}
	if res := runCLI(t, "", "config", "init", "--path", target); res.err == nil {
		t.Fatal("expected existing config error")
	}

	env := setupCLITestEnv(t)
	shown := env.run(t, "", "config", "show").mustSucceed(t)
	if strings.Contains(shown, "cli-secret") || !strings.Contains(shown, "auto_accept_threshold") {
		t.Fatalf("config show output:\n%s", shown)
	}
	valid := env.run(t, "", "config", "validate").mustSucceed(t)
	if !strings.Contains(valid, "Configuration valid") {
		t.Fatalf("validate output:\n%s", valid)
	}
}

func TestReadImportRecords(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		column  string
		keys    []string
		want    int
		wantErr bool
	}{
		{name: "basic", input: "name,code\nOslo,1\nBergen,2\n", column: "name", want: 2},
		{name: "byte order mark", input: "\ufeffname\nOslo\n", column: "name", want: 1},
		{name: "short rows", input: "code,name\n1\n2,Bergen\n", column: "name", keys: []string{"code"}, want: 2},
		{name: "missing column", input: "title\nOslo\n", column: "name", wantErr: true},
		{name: "missing key column", input: "name\nOslo\n", column: "name", keys: []string{"id"}, wantErr: true},
		{name: "empty", input: "", column: "name", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			records, err := readImportRecords(strings.NewReader(tc.input), tc.column, tc.keys)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("readImportRecords: %v", err)
			}
			if len(records) != tc.want {
				t.Fatalf("records = %+v", records)
			}
			if len(tc.keys) > 0 && len(records[0].Key) != len(tc.keys) {
				t.Fatalf("key = %v", records[0].Key)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "": false}
	for input, want := range tests {
		var out strings.Builder
		got, err := confirm(strings.NewReader(input), &out, "go? ")
		if err != nil {
			t.Fatalf("confirm(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("confirm(%q) = %v, want %v", input, got, want)
		}
	}
}
