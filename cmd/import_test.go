package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tickets.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseImportFile(t *testing.T) {
	t.Run("parses ticket array", func(t *testing.T) {
		path := writeTempFile(t, `[
			{"id": 1, "title": "发货太慢", "category": "物流",
			 "replies": [{"owner": "customer", "content": "几天了还没发"}]},
			{"id": 2, "title": "退款进度"}
		]`)

		tickets, err := parseImportFile(path)
		if err != nil {
			t.Fatalf("parseImportFile: %v", err)
		}
		if len(tickets) != 2 {
			t.Fatalf("got %d tickets, want 2", len(tickets))
		}
		if tickets[0].Title != "发货太慢" || len(tickets[0].Replies) != 1 {
			t.Errorf("first ticket = %+v", tickets[0])
		}
	})

	t.Run("unknown fields are ignored", func(t *testing.T) {
		path := writeTempFile(t, `[{"id": 1, "title": "t", "extra": {"nested": true}}]`)

		tickets, err := parseImportFile(path)
		if err != nil {
			t.Fatalf("parseImportFile: %v", err)
		}
		if tickets[0].ID != 1 {
			t.Errorf("id = %d", tickets[0].ID)
		}
	})

	t.Run("rejects non-array body", func(t *testing.T) {
		path := writeTempFile(t, `{"id": 1, "title": "t"}`)

		if _, err := parseImportFile(path); err == nil {
			t.Fatal("want error for non-array body")
		}
	})

	t.Run("rejects empty array", func(t *testing.T) {
		path := writeTempFile(t, `[]`)

		if _, err := parseImportFile(path); err == nil {
			t.Fatal("want error for empty array")
		}
	})

	t.Run("rejects missing file", func(t *testing.T) {
		if _, err := parseImportFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
			t.Fatal("want error for missing file")
		}
	})
}
