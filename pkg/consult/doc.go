// Package consult implements the medical consultation workflow on top of
// flowgraph.
//
// A session alternates between classifying the conversation, asking the
// patient follow-up questions and, once enough is known, summarizing the
// case. The summary is shown to a reviewer: the session suspends at
// edit_summary_node until Engine.Resume supplies the confirmed or edited
// summary, and then the advice node answers.
//
//	engine, err := consult.NewEngine(models, store, consult.WithSessionLocking())
//	for ev, err := range engine.Run(ctx, sessionID, "I have a headache", false) {
//	    ...
//	}
//	final, err := engine.Resume(ctx, sessionID, editedSummary)
//
// Every node boundary is checkpointed, so a session survives process
// restarts when the store is durable.
package consult
