// Package policy parses update-proxy policy files and evaluates connection
// requests against them.
//
// A policy file is an ordered list of allow/deny rules keyed by VM identity
// or tag/type attributes. Evaluation is a single-pass, first-match-wins scan
// with no backtracking and no merging of rules: the first rule whose source
// and destination matchers both accept the request decides the verdict. The
// package owns loading and validation of rule files; the snapshot lifecycle
// around reloads lives in pkg/config.
package policy
