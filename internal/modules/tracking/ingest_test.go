package tracking

import (
	"errors"
	"testing"
	"time"

	"ridepulse/internal/types"
)

func baseFix(ts time.Time) PositionFix {
	return PositionFix{
		TripID:    "trip-1",
		DriverID:  "driver-1",
		Position:  types.Point{Lat: 19.0760, Lng: 72.8777},
		Timestamp: ts,
	}
}

func TestIngest_Accept_Validation(t *testing.T) {
	var ing Ingest
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	heading := func(h float64) *float64 { return &h }
	speed := func(s float64) *float64 { return &s }

	tests := []struct {
		name    string
		mutate  func(*PositionFix)
		wantErr error
	}{
		{name: "valid", mutate: func(*PositionFix) {}},
		{name: "missing trip id", mutate: func(f *PositionFix) { f.TripID = "" }, wantErr: ErrMissingIdentifier},
		{name: "missing driver id", mutate: func(f *PositionFix) { f.DriverID = "" }, wantErr: ErrMissingIdentifier},
		{name: "lat too high", mutate: func(f *PositionFix) { f.Position.Lat = 90.5 }, wantErr: ErrOutOfRangeCoordinate},
		{name: "lat too low", mutate: func(f *PositionFix) { f.Position.Lat = -91 }, wantErr: ErrOutOfRangeCoordinate},
		{name: "lng too high", mutate: func(f *PositionFix) { f.Position.Lng = 181 }, wantErr: ErrOutOfRangeCoordinate},
		{name: "lng too low", mutate: func(f *PositionFix) { f.Position.Lng = -180.01 }, wantErr: ErrOutOfRangeCoordinate},
		{name: "heading out of range", mutate: func(f *PositionFix) { f.Heading = heading(360) }, wantErr: ErrOutOfRangeCoordinate},
		{name: "negative speed", mutate: func(f *PositionFix) { f.SpeedKmh = speed(-1) }, wantErr: ErrOutOfRangeCoordinate},
		{name: "boundary coordinates ok", mutate: func(f *PositionFix) {
			f.Position = types.Point{Lat: -90, Lng: 180}
		}},
		{name: "zero heading ok", mutate: func(f *PositionFix) { f.Heading = heading(0) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := baseFix(now)
			tt.mutate(&fix)
			_, err := ing.Accept(fix, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Accept() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIngest_Accept_StaleTimestamp(t *testing.T) {
	var ing Ingest
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	last, err := ing.Accept(baseFix(now), nil)
	if err != nil {
		t.Fatalf("first fix rejected: %v", err)
	}

	stale := baseFix(now.Add(-1 * time.Second))
	if _, err := ing.Accept(stale, &last); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("stale fix error = %v, want ErrStaleTimestamp", err)
	}

	// The very first fix for a trip has nothing to be stale against.
	if _, err := ing.Accept(stale, nil); err != nil {
		t.Errorf("first fix with old timestamp rejected: %v", err)
	}
}

func TestIngest_Accept_DuplicateFlaggedNotRejected(t *testing.T) {
	var ing Ingest
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	last, err := ing.Accept(baseFix(now), nil)
	if err != nil {
		t.Fatalf("first fix rejected: %v", err)
	}

	dup, err := ing.Accept(baseFix(now), &last)
	if err != nil {
		t.Fatalf("duplicate fix rejected: %v", err)
	}
	if !dup.Duplicate {
		t.Error("identical fix not flagged as duplicate")
	}

	// Same timestamp, different position: not a duplicate, still accepted.
	moved := baseFix(now)
	moved.Position.Lat += 0.001
	acc, err := ing.Accept(moved, &last)
	if err != nil {
		t.Fatalf("same-timestamp moved fix rejected: %v", err)
	}
	if acc.Duplicate {
		t.Error("moved fix wrongly flagged as duplicate")
	}
}
