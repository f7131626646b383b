package app

import "testing"

func TestNewRunRecord(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		mutating  bool
	}{
		{name: "run mutates", operation: OpRun, mutating: true},
		{name: "purge mutates", operation: OpPurge, mutating: true},
		{name: "status reads", operation: OpStatus, mutating: false},
		{name: "deletions reads", operation: OpDeletions, mutating: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunRecord(tt.operation)

			if r.Operation != tt.operation {
				t.Errorf("Operation = %q, want %q", r.Operation, tt.operation)
			}
			if r.Status != StatusSuccess {
				t.Errorf("Status = %q, want %q", r.Status, StatusSuccess)
			}
			if r.ID != 0 {
				t.Errorf("ID = %d, want 0", r.ID)
			}
			if r.Mutating() != tt.mutating {
				t.Errorf("Mutating() = %v, want %v", r.Mutating(), tt.mutating)
			}
		})
	}
}

func TestRunRecord_Persisted(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{name: "not persisted when ID is 0", id: 0, want: false},
		{name: "persisted when ID is positive", id: 1, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &RunRecord{ID: tt.id}
			if got := r.Persisted(); got != tt.want {
				t.Errorf("Persisted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunRecord_Fail(t *testing.T) {
	r := NewRunRecord(OpRun)
	r.Fail()
	if r.Status != StatusError {
		t.Errorf("Status = %q, want %q", r.Status, StatusError)
	}
}
