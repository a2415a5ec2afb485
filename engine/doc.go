// Package engine is the orchestration layer of Delfos. The Engine turns one
// inbound message into one Response, either through a conversational handler
// or through the full data path:
//
//	triage -> intent -> cache -> schema -> resolution loop
//	       -> post_process -> viz -> format
//
// Every stage runs inside its own trace span and emits one core.Event when it
// succeeds. Streams always end with exactly one complete or error event.
//
// # Usage
//
//	eng := engine.New(engine.Deps{
//	    Triage:   classify.NewTriage(m),
//	    Intent:   classify.NewIntentClassifier(m),
//	    Schema:   schema.NewService(catalog),
//	    Resolver: flow.New(gen, val, exec, ver),
//	    Hooks:    hooks.NewDefaultRegistry(logger),
//	}, func(o *engine.Options) {
//	    o.ExactCache = cache.NewBounded[*engine.Response](200, time.Hour)
//	})
//
//	requestID, events := eng.Stream(ctx, engine.Request{UserID: "u1", Message: "saldo por banco"})
//	for ev := range events {
//	    handle(requestID, ev)
//	}
//
// Handlers answer greetings, follow-ups, visualization requests, general and
// out-of-scope questions without touching the warehouse. Verified data answers
// are cached per question and sub-type; conversation turns are persisted in the
// background and Wait drains them on shutdown.
package engine
