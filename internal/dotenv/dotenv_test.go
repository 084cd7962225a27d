package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileIsNoop(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
}

func TestLoadFileValues(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# leading comment\n" +
		"PLAIN=loaded\n" +
		"QUOTED=\"hello world\"\n" +
		"SINGLE='keep #this'\n" +
		"TRAILING=value # trailing comment\n" +
		"export EXPORTED=ok\n" +
		"EXISTING=from_file\n" +
		"=no_key\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXISTING", "already_set")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	want := map[string]string{
		"PLAIN":    "loaded",
		"QUOTED":   "hello world",
		"SINGLE":   "keep #this",
		"TRAILING": "value",
		"EXPORTED": "ok",
		"EXISTING": "already_set",
	}
	for key, value := range want {
		if got := os.Getenv(key); got != value {
			t.Fatalf("%s=%q, want %q", key, got, value)
		}
	}
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		line     string
		key, val string
		ok       bool
	}{
		{"A=1", "A", "1", true},
		{"  B = two  ", "B", "two", true},
		{"export C=3", "C", "3", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"noequals", "", "", false},
		{"=orphan", "", "", false},
	}
	for _, tc := range cases {
		key, val, ok := parseLine(tc.line)
		if key != tc.key || val != tc.val || ok != tc.ok {
			t.Fatalf("parseLine(%q) = %q, %q, %v; want %q, %q, %v",
				tc.line, key, val, ok, tc.key, tc.val, tc.ok)
		}
	}
}
