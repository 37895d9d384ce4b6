package resultstore

import (
	"fmt"

	"github.com/ethpandaops/evaloor/pkg/digest"
)

// Pipeline is the identity contract the caller's pipeline objects must
// satisfy. Repr returns a canonical, deterministic textual representation;
// it is the sole identity signal, so two logically identical pipelines must
// produce byte-identical representations.
type Pipeline interface {
	Repr() (string, error)
}

// Dataset is the read-only view of the caller's dataset objects consumed
// by the store.
type Dataset interface {
	// Code is the stable dataset identity.
	Code() string

	// SubjectList returns the dataset's subjects; only its length is
	// recorded.
	SubjectList() []string

	// Sessions is the number of recording sessions per subject.
	Sessions() int
}

// Record is one evaluation outcome produced by the evaluation engine.
// Dataset and Channels repeat per record but are only consulted for the
// first record of a payload when its dataset table is created.
type Record struct {
	Dataset  Dataset
	ID       string
	Score    float64
	Time     float64
	Samples  float64
	Channels int
}

// PipelineDigest returns the content digest identifying a pipeline in
// the store.
func PipelineDigest(p Pipeline) (string, error) {
	repr, err := p.Repr()
	if err != nil {
		return "", fmt.Errorf("getting pipeline representation: %w", err)
	}

	return digest.Sum(repr), nil
}

// normalizeResults resolves the record-or-list payload union at the API
// boundary. Any other shape fails with ErrInvalidResults.
func normalizeResults(payload any) ([]Record, error) {
	switch v := payload.(type) {
	case Record:
		return []Record{v}, nil
	case *Record:
		if v == nil {
			return nil, fmt.Errorf("%w: got a nil record", ErrInvalidResults)
		}

		return []Record{*v}, nil
	case []Record:
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: got an empty list", ErrInvalidResults)
		}

		return v, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidResults, payload)
	}
}
