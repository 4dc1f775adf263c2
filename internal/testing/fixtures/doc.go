// Package fixtures provides test data factories for the savings engine.
//
// The fixtures package contains factory functions for creating test data
// with sensible defaults and optional customization.
//
// # Factory Pattern
//
// Create a factory with a database connection:
//
//	f := fixtures.New(testDB)
//
// # Creating Test Data
//
// Factory methods create domain entities:
//
//	position := f.CreatePosition(t)           // Flex position, random owner
//	pod := f.CreatePod(t, "alice")            // Filling 6M pod
//	f.JoinPod(t, pod, "bob")                  // Add member
//
// # Customization
//
// Use option functions for customization:
//
//	position := f.CreatePosition(t, WithPlan(model.PlanFixed1Y))
//	pod := f.CreatePod(t, "alice", WithVisibility(model.VisibilityPrivate))
//
// # Cleanup
//
// Test data is cleaned up when the test database is closed.
package fixtures
