package repository

import (
	"encoding/json"
	"fmt"

	"github.com/okian/ascend/internal/domain/progression"
)

func encodeState(s progression.State) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state %s: %w", s.UserID, err)
	}
	return b, nil
}

func decodeState(b []byte) (progression.State, error) {
	var s progression.State
	if err := json.Unmarshal(b, &s); err != nil {
		return progression.State{}, fmt.Errorf("decode state: %w", err)
	}
	return s, nil
}

func encodeOutcome(o progression.Outcome) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode outcome %s: %w", o.SubmissionID, err)
	}
	return b, nil
}

func decodeOutcome(b []byte) (progression.Outcome, error) {
	var o progression.Outcome
	if err := json.Unmarshal(b, &o); err != nil {
		return progression.Outcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	return o, nil
}

func encodeTierRecord(r progression.TierRecord) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode tier record %s: %w", r.UserID, err)
	}
	return b, nil
}

func decodeTierRecord(b []byte) (progression.TierRecord, error) {
	var r progression.TierRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return progression.TierRecord{}, fmt.Errorf("decode tier record: %w", err)
	}
	return r, nil
}
