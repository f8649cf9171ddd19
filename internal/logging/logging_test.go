package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	cases := []struct {
		level string
		want  []string
		skip  []string
	}{
		{level: "debug", want: []string{"[DEBUG] d", "[INFO] i", "[WARN] w", "[ERROR] e"}},
		{level: "warn", want: []string{"[WARN] w", "[ERROR] e"}, skip: []string{"[DEBUG]", "[INFO]"}},
		{level: "bogus", want: []string{"[INFO] i"}, skip: []string{"[DEBUG]"}},
		{level: "", want: []string{"[INFO] i"}, skip: []string{"[DEBUG]"}},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		l := NewWriter(tc.level, &buf)
		l.Debugf("d")
		l.Infof("i")
		l.Warnf("w")
		l.Errorf("e")
		out := buf.String()
		for _, w := range tc.want {
			if !strings.Contains(out, w) {
				t.Fatalf("level %q: expected %q in output %q", tc.level, w, out)
			}
		}
		for _, s := range tc.skip {
			if strings.Contains(out, s) {
				t.Fatalf("level %q: unexpected %q in output %q", tc.level, s, out)
			}
		}
	}
}

func TestNewWithFileWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jefe.log")
	l := NewWithFile("info", path)
	l.Infof("hello %s", "file")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "[INFO] hello file") {
		t.Fatalf("expected log line in file, got %q", string(b))
	}
}
