// Package prompts contains the LLM prompt templates used by Aza Man.
//
// Prompt text is Go code rather than config files because it is program
// logic: the system prompt is a text/template filled from conversation
// state, and every template is covered by tests.
//
// Convention: each prompt category gets its own file (system.go,
// summary.go) with an exported function that accepts the dynamic parts
// and returns the fully interpolated prompt string.
package prompts
