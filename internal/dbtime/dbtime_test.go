package dbtime

import (
	"database/sql"
	"testing"
	"time"
)

func TestFormatSortsLexically(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(time.Millisecond),
		base.Add(500 * time.Millisecond),
		base.Add(time.Second),
	}
	for i := 1; i < len(times); i++ {
		if Format(times[i-1]) >= Format(times[i]) {
			t.Fatalf("expected %s < %s", Format(times[i-1]), Format(times[i]))
		}
	}
}

func TestFormatNormalizesZone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	local := time.Date(2025, 3, 1, 15, 0, 0, 0, loc)
	if got, want := Format(local), "2025-03-01T12:00:00.000000000Z"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestParseRoundTrip(t *testing.T) {
	want := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	got, err := Parse(Format(want))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParseNull(t *testing.T) {
	got, err := ParseNull(sql.NullString{})
	if err != nil || got != nil {
		t.Fatalf("expected nil, got %v err=%v", got, err)
	}
	if _, err := ParseNull(sql.NullString{String: "garbage", Valid: true}); err == nil {
		t.Fatal("expected parse error")
	}
}
