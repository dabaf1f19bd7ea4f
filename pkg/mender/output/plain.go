package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
)

// PlainFormatter writes unstyled tab-aligned rows for scripting: one row
// per failing or orphaned file, then one row per planned package.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	if _, err := fmt.Fprintln(tw, "STATUS\tPATH"); err != nil {
		return err
	}
	for _, o := range r.Failing {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", r.Status(o), o.Path); err != nil {
			return err
		}
	}
	for _, p := range r.Orphans {
		if _, err := fmt.Fprintf(tw, "orphan\t%s\n", p); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Packages) == 0 {
		return nil
	}
	w.WriteString("\n")
	tw = tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	if _, err := fmt.Fprintln(tw, "PACKAGE\tSTATUS\tURL"); err != nil {
		return err
	}
	for _, p := range r.Packages {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Package.Key, p.Status, p.Package.URL); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

var _ Formatter = (*PlainFormatter)(nil)
