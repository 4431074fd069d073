package main

import (
	"testing"

	"github.com/smarteye/smarteye/pkg/calibration"
)

func TestParseStep(t *testing.T) {
	install := calibration.StepsFor(calibration.WorkflowInstall)
	tests := []struct {
		arg     string
		want    string
		wantErr bool
	}{
		{arg: "1", want: install[0].ID},
		{arg: install[2].ID, want: install[2].ID},
		{arg: "0", wantErr: true},
		{arg: "99", wantErr: true},
		{arg: "nope", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseStep(calibration.WorkflowInstall, tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseStep(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if !tt.wantErr && got.ID != tt.want {
				t.Fatalf("parseStep(%q) = %q, want %q", tt.arg, got.ID, tt.want)
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{in: "55", want: 55.0},
		{in: "1.5", want: 1.5},
		{in: "true", want: true},
		{in: "auto", want: "auto"},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); got != tt.want {
			t.Errorf("parseValue(%q) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
		}
	}
}
