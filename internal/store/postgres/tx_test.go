package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"

	"github.com/Hrittik20/TSUSwap/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errorClass
	}{
		{"serialization", &pq.Error{Code: "40001"}, classSerialization},
		{"deadlock", &pq.Error{Code: "40P01"}, classDeadlock},
		{"lock timeout", &pq.Error{Code: "55P03"}, classTransient},
		{"wrapped serialization", fmt.Errorf("bid: %w", &pq.Error{Code: "40001"}), classSerialization},
		{"unique violation", &pq.Error{Code: "23505"}, classPermanent},
		{"plain error", errors.New("boom"), classPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"unique violation", &pq.Error{Code: "23505"}, store.ErrDuplicate},
		{"foreign key violation", &pq.Error{Code: "23503"}, store.ErrNotFound},
		{"bad uuid", &pq.Error{Code: "22P02"}, store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapErr(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("mapErr() = %v, want %v", got, tt.want)
			}
		})
	}

	other := errors.New("connection reset")
	if got := mapErr(other); got != other {
		t.Errorf("mapErr() changed unrelated error to %v", got)
	}
	if mapErr(nil) != nil {
		t.Error("mapErr(nil) should be nil")
	}
}
