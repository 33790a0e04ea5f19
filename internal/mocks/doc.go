// Package mocks provides shared test doubles.
//
//	mock := mocks.NewScriptedLLM("test-model")
//	mock.QueueResponse(`{"case_solver": "icoFoam"}`)
//	mock.Respond(func(req llm.CompletionRequest) (string, error) { ... })
//
// Queued responses and errors are consumed first, in order. Once the queue is
// empty the responder, if any, answers every further request.
package mocks
