package storage

import (
	"fmt"
	"strings"
	"time"

	"seqflow/internal/sequence"
)

const timeLayout = "2006-01-02 15:04:05"

// SerializeStep renders a step as its on-disk text form: the metadata
// banner followed by the script body.
func SerializeStep(step *sequence.Step) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "-- type: %s\n", step.Type())
	fmt.Fprintf(&b, "-- label: %s\n", step.Label())
	fmt.Fprintf(&b, "-- use context variable names: [%s]\n",
		strings.Join(step.UsedContextVariableNames(), ", "))
	if step.IsDisabled() {
		b.WriteString("-- is disabled: true\n")
	}
	if t := step.TimeOfLastModification(); !t.IsZero() {
		fmt.Fprintf(&b, "-- time of last modification: %s\n", t.Local().Format(timeLayout))
	}
	if t := step.TimeOfLastExecution(); !t.IsZero() {
		fmt.Fprintf(&b, "-- time of last execution: %s\n", t.Local().Format(timeLayout))
	}
	fmt.Fprintf(&b, "-- timeout: %s\n", step.Timeout())

	if script := step.Script(); script != "" {
		b.WriteString(script)
		b.WriteString("\n")
	}

	return []byte(b.String())
}

// splitKeyword extracts the banner keyword from a line of the form
// "-- <keyword>: <rest>". The second result is the text after the colon
// with one leading space removed.
func splitKeyword(line string) (keyword, rest string, ok bool) {
	if !strings.HasPrefix(line, "-- ") {
		return "", "", false
	}
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", "", false
	}
	keyword = line[3:colon]
	rest = strings.TrimPrefix(line[colon+1:], " ")
	return keyword, rest, true
}

// ParseStep parses the on-disk text form of a step. Keywords may appear in
// any order; the first line that is not a recognized keyword starts the
// script body, and every line after it belongs to the script. The stored
// time of last modification is applied last so that the field setters used
// during parsing cannot clobber it.
func ParseStep(data []byte) (*sequence.Step, error) {
	step := sequence.NewStep(sequence.TypeAction)

	var lastModification time.Time
	var scriptLines []string
	sawType := false
	inScript := false

	for _, line := range strings.Split(string(data), "\n") {
		if inScript {
			scriptLines = append(scriptLines, line)
			continue
		}

		keyword, rest, ok := splitKeyword(line)
		if !ok {
			inScript = true
			scriptLines = append(scriptLines, line)
			continue
		}

		switch keyword {
		case "type":
			typ, err := sequence.ParseStepType(rest)
			if err != nil {
				return nil, fmt.Errorf("type: %w", err)
			}
			step.SetType(typ)
			sawType = true
		case "label":
			step.SetLabel(rest)
		case "use context variable names":
			names, err := parseVariableNames(rest)
			if err != nil {
				return nil, err
			}
			if err := step.SetUsedContextVariableNames(names); err != nil {
				return nil, fmt.Errorf("use context variable names: %w", err)
			}
		case "is disabled":
			step.SetDisabled(rest == "true")
		case "time of last modification":
			t, err := parseTime("time of last modification", rest)
			if err != nil {
				return nil, err
			}
			lastModification = t
		case "time of last execution":
			t, err := parseTime("time of last execution", rest)
			if err != nil {
				return nil, err
			}
			step.SetTimeOfLastExecution(t)
		case "timeout":
			timeout, err := sequence.ParseTimeout(strings.TrimSpace(rest))
			if err != nil {
				return nil, err
			}
			step.SetTimeout(timeout)
		default:
			inScript = true
			scriptLines = append(scriptLines, line)
		}
	}

	if !sawType {
		return nil, fmt.Errorf("step file has no type line")
	}

	script := strings.Join(scriptLines, "\n")
	script = strings.TrimSuffix(script, "\n")
	step.SetScript(script)

	// Applied last: the setters above bump the modification time.
	step.SetTimeOfLastModification(lastModification)

	return step, nil
}

func parseVariableNames(rest string) ([]string, error) {
	if !strings.HasPrefix(rest, "[") {
		return nil, fmt.Errorf("use context variable names: cannot find leading '['")
	}
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return nil, fmt.Errorf("use context variable names: cannot find trailing ']'")
	}
	inner := strings.TrimSpace(rest[1:end])
	if inner == "" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, strings.TrimSpace(p))
	}
	return names, nil
}

// parseTime parses a banner timestamp in the local time zone, leaving
// daylight saving time resolution to the zone database.
func parseTime(issue, rest string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, strings.TrimSpace(rest), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: unable to parse time (%q)", issue, rest)
	}
	return t, nil
}
