package output

import (
	"bytes"
	"encoding/json"
)

// jsonOutput adds the computed fields to a Report.
type jsonOutput struct {
	*Report
	Elapsed string `json:"elapsed,omitempty"`
	Verdict string `json:"verdict"`
}

// JSONFormatter writes the report as one indented JSON document.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(jsonOutput{
		Report:  r,
		Elapsed: formatDurationString(r.Elapsed),
		Verdict: r.Verdict(),
	})
}

// jsonLine is one file row in JSONL output.
type jsonLine struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// JSONLFormatter writes one compact JSON object per failing or orphaned
// file, suitable for streaming into jq.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Report) error {
	write := func(line jsonLine) error {
		data, err := json.Marshal(line)
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
		return nil
	}
	for _, o := range r.Failing {
		if err := write(jsonLine{Path: o.Path, Status: r.Status(o), Error: o.Err}); err != nil {
			return err
		}
	}
	for _, p := range r.Orphans {
		if err := write(jsonLine{Path: p, Status: "orphan"}); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
	Register("jsonl", func() Formatter {
		return &JSONLFormatter{}
	})
}

var (
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*JSONLFormatter)(nil)
)
