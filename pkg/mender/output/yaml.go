package output

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// yamlOutput adds the computed fields to a Report.
type yamlOutput struct {
	Report  `yaml:",inline"`
	Elapsed string `yaml:"elapsed,omitempty"`
	Verdict string `yaml:"verdict"`
}

// YAMLFormatter writes the same document as JSONFormatter in YAML.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Report) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(yamlOutput{
		Report:  *r,
		Elapsed: formatDurationString(r.Elapsed),
		Verdict: r.Verdict(),
	}); err != nil {
		return err
	}
	return encoder.Close()
}

func init() {
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

var _ Formatter = (*YAMLFormatter)(nil)
