// Package model defines the generation-collaborator contract consumed by the
// orchestrator, together with a deterministic mock. Vendor adapters live in
// the openai and anthropic subpackages.
package model
