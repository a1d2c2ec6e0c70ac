// Package automation provides the configurable action engine for the
// tailgate controller.
//
// A Config is a declarative, multi-step behaviour: preconditions checked
// once, ordered steps (action, wait, condition), monitors that run while the
// steps execute, and best-effort post-actions.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                  Engine (engine.go)                    │
//	│  Runs one config at a time, records every execution    │
//	│  ┌──────────────┐    ┌───────────────┐                │
//	│  │   Library    │───▶│  Repository   │                │
//	│  │ (library.go) │    │(repository.go)│                │
//	│  └──────────────┘    └───────────────┘                │
//	│        │                                              │
//	│        ▼                                              │
//	│  ┌──────────────────────────────────────────────┐    │
//	│  │  Execution Pipeline                           │    │
//	│  │  1. Validate (no side effects on failure)     │    │
//	│  │  2. Preconditions (abort or warn)             │    │
//	│  │  3. Start monitors                            │    │
//	│  │  4. Steps in order, pause/stop at boundaries  │    │
//	│  │  5. Stop monitors (every path)                │    │
//	│  │  6. Post-actions (success path only)          │    │
//	│  │  7. Persist record, publish, broadcast        │    │
//	│  └──────────────────────────────────────────────┘    │
//	└───────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Config: preconditions, steps, monitors and post-actions
//   - Step: one action, wait or condition entry
//   - Execution: audit record of one run
//   - Library: thread-safe cache wrapping a Repository, with JSON import/export
//   - Engine: single-flight executor of configs
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db)
//	library := automation.NewLibrary(repo)
//	if err := library.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	engine := automation.NewEngine(automation.EngineDeps{
//	    Library:   library,
//	    Executor:  executor,
//	    Evaluator: evaluator,
//	    Monitors:  monitors,
//	    State:     machine,
//	    Logger:    log,
//	})
//	exec, err := engine.Execute(ctx, "safe-open", automation.Trigger{Type: "manual", Source: "api"})
package automation
