package domain

import (
	"encoding/json"
	"fmt"
)

const (
	OperationOptimized = "Optimized"
	OperationResized   = "Resized"
)

// TransformResult is the success record for one input file.
type TransformResult struct {
	Filename       string `json:"filename"`
	Operation      string `json:"operation"`
	OriginalSize   int    `json:"original_size"`
	OptimizedSize  int    `json:"optimized_size"`
	OriginalWidth  int    `json:"original_width"`
	OriginalHeight int    `json:"original_height"`
	NewWidth       int    `json:"new_width"`
	NewHeight      int    `json:"new_height"`
	OutputFormat   Format `json:"output_format"`
	OutputRef      string `json:"output_reference"`
	Preview        string `json:"preview,omitempty"`
}

// Entry is one slot of a batch outcome: exactly one of Result or Err is set.
// It marshals flat, so the wire shape is the success record or the error
// record directly, never a wrapper object.
type Entry struct {
	Result *TransformResult
	Err    *ItemError
}

func (e Entry) Failed() bool { return e.Err != nil }

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Err != nil {
		return json.Marshal(e.Err)
	}
	if e.Result != nil {
		return json.Marshal(e.Result)
	}
	return nil, fmt.Errorf("outcome entry has neither result nor error")
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var probe struct {
		Kind ErrorKind `json:"error_kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Kind != "" {
		e.Err = &ItemError{}
		return json.Unmarshal(data, e.Err)
	}
	e.Result = &TransformResult{}
	return json.Unmarshal(data, e.Result)
}

// BatchOutcome is the ordered per-file result set. Its length always equals
// the input file count; a failed item holds its slot, never dropped.
type BatchOutcome struct {
	Entries []Entry `json:"entries"`
}

func (o BatchOutcome) Len() int { return len(o.Entries) }

// Failures counts error entries.
func (o BatchOutcome) Failures() int {
	n := 0
	for _, e := range o.Entries {
		if e.Failed() {
			n++
		}
	}
	return n
}
