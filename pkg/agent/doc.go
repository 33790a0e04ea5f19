// Package agent builds the LLM clients used by the case generation pipeline.
//
// Layout:
//   - llm: provider-neutral request and response types plus middleware chaining
//   - llmerrors: classified provider errors
//   - middleware: metrics, retry, rate limiting and timeouts
//   - internal/llmimpl: raw provider clients (Anthropic, OpenAI, Gemini, Ollama)
//
// Callers use ClientFactory and never construct provider clients directly.
package agent
