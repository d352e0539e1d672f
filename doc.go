// Package lolo is the AI orchestration core of an IRC-connected assistant.
//
// The core receives mention requests over HTTP, assembles a cache-stable
// prompt, drives a multi-turn reasoning loop against an OpenAI
// Responses-style provider, dispatches tool calls through a registry with
// per-capability quotas and permission gates, and emits a stream of typed
// events ending in exactly one terminal frame: success, null, or error.
//
// The root package holds the contracts shared by every subsystem: the
// provider protocol DTOs, the Tool interface and registry, the Store
// interface, the prompt builder, the quota fabric, and the orchestrator
// itself. Concrete implementations live in subpackages (provider/openai,
// store/sqlite, store/postgres, kb, reminder, httpapi, tools/...).
package lolo
