//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// ErrorWrapVerb detects fmt.Errorf calls that format a wrapped error
// with %v instead of %w.
//
// The old pattern:
//
//	return fmt.Errorf("opening store: %v", err)
//
// New pattern:
//
//	return fmt.Errorf("opening store: %w", err)
//
// Benefits:
//   - errors.Is and errors.As keep working on the wrapped chain
//   - Sentinels like gorm.ErrRecordNotFound stay matchable
func ErrorWrapVerb(m dsl.Matcher) {
	m.Match(
		`fmt.Errorf($fmt, $err)`,
	).
		Where(m["err"].Type.Is("error") && m["fmt"].Text.Matches(`%v`)).
		Report("use %w instead of %v when wrapping an error so errors.Is still matches the chain")
}

// ErrorComparison detects direct equality comparison against error
// sentinels and suggests errors.Is.
//
// The old pattern:
//
//	if err == artifactstore.ErrNotFound { ... }
//
// New pattern:
//
//	if errors.Is(err, artifactstore.ErrNotFound) { ... }
//
// Benefits:
//   - Wrapped errors (the enhanced error builder wraps everything it
//     is given) still match the sentinel
//
// See: https://pkg.go.dev/errors#Is
func ErrorComparison(m dsl.Matcher) {
	m.Match(
		`$err == $target`,
	).
		Where(m["err"].Type.Is("error") && m["target"].Type.Is("error") && !m["target"].Text.Matches(`^nil$`)).
		Report("use errors.Is($err, $target); a builder-wrapped error never compares equal to the sentinel")

	m.Match(
		`$err != $target`,
	).
		Where(m["err"].Type.Is("error") && m["target"].Type.Is("error") && !m["target"].Text.Matches(`^nil$`)).
		Report("use !errors.Is($err, $target); a builder-wrapped error never compares equal to the sentinel")
}

// BareErrorConstruction detects plain error construction in non-test
// code and points to the enhanced error builder.
//
// The old pattern:
//
//	return fmt.Errorf("model weights file missing")
//
// New pattern:
//
//	return errors.Newf("model weights file missing").
//	    Component("classifier").
//	    Category(errors.CategoryModelLoad).
//	    Build()
//
// Benefits:
//   - The error carries component and category for the API status
//     mapping and for telemetry
//   - Context pairs surface in structured logs
func BareErrorConstruction(m dsl.Matcher) {
	m.Match(
		`fmt.Errorf($fmt)`,
	).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("constant-message errors should use errors.Newf(...).Component(...).Category(...).Build() so they carry component and category")

	m.Match(
		`errors.New($msg)`,
	).
		Where(m.File().Imports("errors") && !m.File().Name.Matches(`_test\.go$`)).
		Report("use the internal errors package: errors.NewStd for sentinels, errors.Newf(...).Build() for enhanced errors")
}
