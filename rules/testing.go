//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// BenchmarkLoop detects the old benchmark iteration pattern and suggests using b.Loop().
//
// The old pattern:
//
//	func BenchmarkFoo(b *testing.B) {
//	    for i := 0; i < b.N; i++ {
//	        // work
//	    }
//	}
//
// New pattern (Go 1.24+):
//
//	func BenchmarkFoo(b *testing.B) {
//	    for b.Loop() {
//	        // work
//	    }
//	}
//
// Benefits:
//   - Setup/cleanup executes only once per -count
//   - Compiler cannot optimize away the loop body
//
// See: https://pkg.go.dev/testing#B.Loop
func BenchmarkLoop(m dsl.Matcher) {
	m.Match(
		`for $i := 0; $i < $b.N; $i++ { $*body }`,
	).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() { ... } instead of for $i := 0; $i < $b.N; $i++ (Go 1.24+); if using $i in body, declare it separately")

	m.Match(
		`for $i := range $b.N { $*body }`,
	).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() { ... } instead of for $i := range $b.N (Go 1.24+); if using $i in body, declare it separately")

	m.Match(
		`for range $b.N { $*body }`,
	).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() { ... } instead of for range $b.N (Go 1.24+)").
		Suggest("for $b.Loop() { $body }")
}

// ManualErrorCheck detects hand-rolled error assertions in tests and
// suggests the testify require helpers the test suite uses everywhere
// else.
//
// The old pattern:
//
//	if err != nil {
//	    t.Fatalf("unexpected error: %v", err)
//	}
//
// New pattern:
//
//	require.NoError(t, err)
//
// Benefits:
//   - Failure output includes the error chain formatted consistently
//   - One line instead of three
//
// See: https://pkg.go.dev/github.com/stretchr/testify/require#NoError
func ManualErrorCheck(m dsl.Matcher) {
	m.Match(
		`if $err != nil { $t.Fatal($*args) }`,
		`if $err != nil { $t.Fatalf($*args) }`,
	).
		Where(m["err"].Type.Is("error") && m["t"].Type.Is("*testing.T")).
		Report("use require.NoError($t, $err) like the rest of the test suite")

	m.Match(
		`if $err == nil { $t.Fatal($*args) }`,
		`if $err == nil { $t.Fatalf($*args) }`,
	).
		Where(m["err"].Type.Is("error") && m["t"].Type.Is("*testing.T")).
		Report("use require.Error($t, $err) like the rest of the test suite")
}
