package domain

// Inventory supplies read-only attribute facts about VMs. It is an external
// collaborator of the evaluator; implementations must be safe for concurrent
// use and must not block, since they are queried on the evaluation path.
type Inventory interface {
	// Tags returns the tags attached to the identity, empty when the
	// identity is unknown.
	Tags(identity string) []string
	// Type returns the identity's type label, empty when unknown.
	Type(identity string) string
}
