// Package domain defines the core vocabulary of the update-proxy policy
// engine: rules, matchers, verdicts, and the inventory collaborator that
// supplies VM attribute facts.
//
// The package is deliberately dependency-free so every other layer (parser,
// evaluator, config provider, CLI) can import it without pulling in transport
// or storage concerns. All types here are immutable once constructed;
// evaluation is a pure function over them.
package domain
