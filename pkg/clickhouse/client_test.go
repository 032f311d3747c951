package clickhouse

import (
	"strings"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host: "ch", Port: 9000, Database: "signalfuse", User: "u", Password: "p",
		DialTimeout: 5 * time.Second, MaxExecTime: 30 * time.Second,
		AsyncInsert: true, WaitForAsync: true,
	})
	if !strings.HasPrefix(dsn, "clickhouse://u:p@ch:9000/signalfuse?dial_timeout=5s") {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	for _, part := range []string{"&max_execution_time=30", "&async_insert=1", "&wait_for_async_insert=1"} {
		if !strings.Contains(dsn, part) {
			t.Fatalf("dsn %s misses %s", dsn, part)
		}
	}
}

func TestBuildDSNHTTP(t *testing.T) {
	dsn := buildDSN(ClientConfig{Host: "ch", Port: 8123, Database: "d", UseHTTP: true})
	if dsn != "clickhouse+http://:@ch:8123/d" {
		t.Fatalf("unexpected dsn %s", dsn)
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(WithPort(9000)); err == nil {
		t.Fatalf("expected error without host")
	}
}
