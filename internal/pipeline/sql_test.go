package pipeline

import (
	"strings"
	"testing"
)

func TestStatementsUseConfiguredLayout(t *testing.T) {
	cfg := testConfig()
	cfg.Athena.Database = "db1"
	cfg.Athena.Table = "t1"
	cfg.Data.Bucket = "bkt"
	cfg.Data.RawPrefix = "incoming/"

	if got := createDatabaseSQL(cfg); got != "CREATE DATABASE IF NOT EXISTS db1;" {
		t.Errorf("unexpected database DDL: %q", got)
	}

	table := createTableSQL(cfg)
	if !strings.Contains(table, "db1.t1") {
		t.Errorf("table DDL should reference db1.t1: %q", table)
	}
	if !strings.Contains(table, "LOCATION 's3://bkt/incoming/'") {
		t.Errorf("table DDL should point at the raw prefix: %q", table)
	}

	agg := stateCountSQL(cfg)
	if !strings.Contains(agg, "FROM db1.t1") {
		t.Errorf("aggregate should read db1.t1: %q", agg)
	}
	if !strings.Contains(agg, "GROUP BY location.state") {
		t.Errorf("aggregate should group by state: %q", agg)
	}
}

func TestObjectKey(t *testing.T) {
	key, err := objectKey("s3://b/athena-results/q-1.csv", "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "athena-results/q-1.csv" {
		t.Errorf("key = %q", key)
	}

	if _, err := objectKey("s3://other/athena-results/q-1.csv", "b"); err == nil {
		t.Error("expected error for foreign bucket")
	}
	if _, err := objectKey("https://b/x.csv", "b"); err == nil {
		t.Error("expected error for non-s3 location")
	}
	if _, err := objectKey("s3://b", "b"); err == nil {
		t.Error("expected error for missing key")
	}
}
