package models

import (
	"reflect"
	"strings"
	"testing"
)

// The attempt sequence must be unique per test and user so two starts
// racing for the same number cannot both insert.
func TestAttemptSequenceUniqueIndex(t *testing.T) {
	typ := reflect.TypeOf(TestAttempt{})
	for _, name := range []string{"TestID", "UserID", "AttemptNumber"} {
		field, ok := typ.FieldByName(name)
		if !ok {
			t.Fatalf("field %s is missing", name)
		}
		if !strings.Contains(field.Tag.Get("gorm"), "uniqueIndex:uniq_attempt_seq") {
			t.Errorf("%s should be part of the uniq_attempt_seq index", name)
		}
	}
}

func TestAttemptStatusTerminal(t *testing.T) {
	terminal := []AttemptStatus{AttemptFinalized, AttemptExpired, AttemptRejected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []AttemptStatus{AttemptInProgress, AttemptSubmitted, AttemptEvaluated} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
