// Package testdb gives repository tests a SurrealDB namespace of their own
// with the savings schema applied.
//
// Connection settings come from TEST_DB_HOST, TEST_DB_PORT, TEST_DB_USER
// and TEST_DB_PASSWORD (defaults target `surreal start memory -A --user
// root --pass root`). The schema is migrations/001_savings.surql, found from
// SOMI_ROOT or by walking up to go.mod. Tests skip when no server answers.
//
//	func TestSomething(t *testing.T) {
//	    tdb := testdb.New(t)
//	    defer tdb.Close()
//
//	    pod := tdb.SeedPod(t, "alice", "bob", "carol")
//	    position := tdb.SeedPosition(t, "alice", model.PlanFixed1Y)
//	}
//
// The namespace is removed when the test ends, whether or not Close was
// called.
package testdb
