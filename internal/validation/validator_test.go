// Athletesync - Incremental Activity History Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/athletesync

package validation

import (
	"strings"
	"testing"
)

type athleteRequest struct {
	ID     int64  `json:"id" validate:"required,gt=0"`
	Name   string `json:"name" validate:"required,max=10"`
	Gender string `json:"gender" validate:"required,oneof=male female"`
}

type invalidateRequest struct {
	Target string `json:"target" validate:"required,synctarget"`
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		req        interface{}
		wantFields []string
	}{
		{"valid athlete", &athleteRequest{ID: 1, Name: "Ann", Gender: "female"}, nil},
		{"missing everything", &athleteRequest{}, []string{"id", "name", "gender"}},
		{"bad gender", &athleteRequest{ID: 2, Name: "Bo", Gender: "x"}, []string{"gender"}},
		{"name too long", &athleteRequest{ID: 3, Name: "abcdefghijkl", Gender: "male"}, []string{"name"}},
		{"valid target", &invalidateRequest{Target: "local"}, nil},
		{"unknown target", &invalidateRequest{Target: "bogus"}, []string{"target"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateStruct(tt.req)
			if len(tt.wantFields) == 0 {
				if verr != nil {
					t.Fatalf("expected no error, got %v", verr)
				}
				return
			}
			if verr == nil {
				t.Fatal("expected validation error")
			}
			if len(verr.Fields) != len(tt.wantFields) {
				t.Fatalf("got %d field errors, want %d: %v", len(verr.Fields), len(tt.wantFields), verr)
			}
			for i, f := range tt.wantFields {
				if verr.Fields[i].Field != f {
					t.Errorf("field[%d] = %q, want %q", i, verr.Fields[i].Field, f)
				}
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	verr := ValidateStruct(&athleteRequest{ID: 0, Name: "Ann", Gender: "male"})
	if verr == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(verr.Error(), "id is required") {
		t.Errorf("unexpected message: %s", verr.Error())
	}

	verr = ValidateStruct(&invalidateRequest{Target: "x"})
	if verr == nil || !strings.Contains(verr.Error(), "target must be one of: streams local") {
		t.Errorf("unexpected message: %v", verr)
	}
}

func TestValidateVar(t *testing.T) {
	t.Parallel()

	if verr := ValidateVar("limit", 5, "min=1"); verr != nil {
		t.Errorf("unexpected error: %v", verr)
	}
	verr := ValidateVar("limit", 0, "min=1")
	if verr == nil {
		t.Fatal("expected error")
	}
	if verr.Fields[0].Message != "limit must be at least 1" {
		t.Errorf("message = %q", verr.Fields[0].Message)
	}
}
