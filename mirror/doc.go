// Package mirror keeps one typed state identical across isolated execution
// contexts that can only talk through a message layer.
//
// Every context binds a Channel to the same Category. The authority binding
// starts from its initial value and is ready at once. Replica bindings
// (background, panel, popup) start from their initial value too, then pull
// the current state from whichever context answers first. Any context may
// write: a local write is applied, then broadcast as the full resulting
// state. Inbound pushes replace the local value and are never broadcast
// again, which keeps a broadcast from bouncing between contexts.
//
//	cat := mirror.MustCategory[Settings]("settings")
//	authority, err := mirror.NewAuthority(layer, cat, Settings{})
//	...
//	panel, err := mirror.NewPanel(otherLayer, cat, Settings{})
//	err = panel.Wait(ctx)
//	err = panel.MergeState(state.Partial{"theme": "dark"})
package mirror
