// Package orchestrator drives the per-session mode state machine.
//
// # Overview
//
// An Orchestrator owns the persistence boundary for session state. Every
// call loads the state for a session id from the session store, applies one
// operation, saves the state and only then returns:
//
//	load -> (switch mode | dispatch to mode handler | set identity) -> save -> return
//
// # Modes
//
// The state machine has six states and is fully connected:
//
//	main_menu_mode, world_architect_mode, dm_story_mode,
//	rules_explanation_mode, tutorial_mode, world_edit_mode
//
// A fresh session starts in main_menu_mode. Switching away from
// tutorial_mode clears the tutorial script and step; switching away from
// world_edit_mode clears the pending change request. Universe, campaign and
// party identities are never touched by a mode switch.
//
// # Handlers
//
// Input is dispatched to the modes.Handler registered for the session's
// current mode. A mode without a handler yields a result carrying an
// "error" field rather than a Go error. Handler results are returned
// unchanged.
//
// # Concurrency
//
// Calls for different sessions run in parallel. Calls for the same session
// id are serialized within one Orchestrator by a keyed lock; between
// processes sharing a store the last save wins.
//
// # Usage Example
//
//	store := sessionstore.NewMemoryStore(sessionstore.Options{MaxHistory: 10})
//	orch := orchestrator.New(store, orchestrator.WithLogger(logger))
//	for _, h := range modes.NewHandlers(deps) {
//	    orch.RegisterHandler(h)
//	}
//
//	if _, err := orch.SwitchMode(ctx, "table-1", "dm_story_mode"); err != nil {
//	    return err
//	}
//	res, err := orch.ProcessInput(ctx, "table-1", modes.Input{"utterance": "I look around"})
package orchestrator
