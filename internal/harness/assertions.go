package harness

import (
	"fmt"
	"strings"

	"github.com/etiennedemoulin/nodes-lamb/internal/engine"
	"github.com/etiennedemoulin/nodes-lamb/internal/ir"
	"github.com/etiennedemoulin/nodes-lamb/internal/protocol"
	"github.com/etiennedemoulin/nodes-lamb/internal/schema"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %s", ev.Seq, ev.Step, ev.Client, ev.Type)
			if ev.InstanceID != 0 {
				fmt.Fprintf(&buf, " instance=%d", ev.InstanceID)
			}
			if ev.Error != "" {
				fmt.Fprintf(&buf, " error=%s", ev.Error)
			}
			if len(ev.Values) > 0 {
				fmt.Fprintf(&buf, " %s", ev.Values)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// AssertionContext carries what assertions need beyond the result.
type AssertionContext struct {
	Schemas *schema.Registry
	Refs    map[string]int64
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertValues:
			err = assertValues(result, assertion, actx)
		case AssertCollection:
			err = assertCollection(result, assertion)
		case AssertGone:
			err = assertGone(result, assertion, actx)
		case AssertReceived:
			err = assertReceived(result, assertion)
		case AssertJournal:
			err = assertJournal(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func findInstance(state []protocol.Instance, id int64) (protocol.Instance, bool) {
	for _, inst := range state {
		if inst.ID == id {
			return inst, true
		}
	}
	return protocol.Instance{}, false
}

// assertValues checks the final values of an instance (subset match). The
// expected values go through the schema coercion first, so 440 matches a
// float field holding 440.0.
func assertValues(result *Result, a Assertion, actx *AssertionContext) error {
	id := actx.Refs[a.Ref]
	inst, ok := findInstance(result.State, id)
	if !ok {
		return &AssertionError{
			Type:     AssertValues,
			Expected: fmt.Sprintf("instance %s (id %d) to be live", a.Ref, id),
			Actual:   "not found in final state",
			Trace:    result.Trace,
		}
	}

	sch, err := actx.Schemas.Get(inst.Schema)
	if err != nil {
		return err
	}
	raw, err := ir.ValuesFromGo(a.Values)
	if err != nil {
		return fmt.Errorf("values assertion on %s: %w", a.Ref, err)
	}
	expected, err := sch.CoerceValues(raw)
	if err != nil {
		return fmt.Errorf("values assertion on %s: %w", a.Ref, err)
	}

	for _, name := range expected.SortedKeys() {
		if !ir.Equal(expected[name], inst.Values[name]) {
			return &AssertionError{
				Type:     AssertValues,
				Expected: fmt.Sprintf("%s.%s = %s", a.Ref, name, render(expected[name])),
				Actual:   fmt.Sprintf("%s.%s = %s", a.Ref, name, render(inst.Values[name])),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// assertCollection checks the number of live instances of a schema.
func assertCollection(result *Result, a Assertion) error {
	count := 0
	for _, inst := range result.State {
		if inst.Schema == a.Schema {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertCollection,
			Expected: fmt.Sprintf("%d live %s instances", *a.Count, a.Schema),
			Actual:   fmt.Sprintf("%d live instances", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertGone checks that an instance has been deleted.
func assertGone(result *Result, a Assertion, actx *AssertionContext) error {
	id := actx.Refs[a.Ref]
	if _, ok := findInstance(result.State, id); ok {
		return &AssertionError{
			Type:     AssertGone,
			Expected: fmt.Sprintf("instance %s (id %d) to be deleted", a.Ref, id),
			Actual:   "still live",
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertReceived checks how many messages of one type a client received.
func assertReceived(result *Result, a Assertion) error {
	count := 0
	for _, ev := range result.Trace {
		if ev.Client == a.Client && string(ev.Type) == a.Message {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertReceived,
			Expected: fmt.Sprintf("%s to receive %d %s", a.Client, *a.Count, a.Message),
			Actual:   fmt.Sprintf("%d received", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertJournal checks how many commits were journaled, optionally of a
// single kind only.
func assertJournal(result *Result, a Assertion) error {
	count := 0
	for _, entry := range result.Journal {
		if a.Kind == "" || entry.Kind == engine.EventKind(a.Kind) {
			count++
		}
	}
	if count != *a.Count {
		what := "events"
		if a.Kind != "" {
			what = a.Kind + " events"
		}
		return &AssertionError{
			Type:     AssertJournal,
			Expected: fmt.Sprintf("%d journaled %s", *a.Count, what),
			Actual:   fmt.Sprintf("%d journaled", count),
		}
	}
	return nil
}

func render(v ir.Value) string {
	if v == nil {
		return "<unset>"
	}
	data, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
