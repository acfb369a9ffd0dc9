// Package client implements the client side of the state manager: a
// read-through mirror of the instances a process created, attached or
// observes through a collection.
//
// Each Client runs two goroutines. The reader applies server messages to
// the cache and resolves pending requests; the dispatcher runs callbacks one
// at a time, in commit order. Callbacks never run on the reader, so they
// may call Set and other blocking methods.
//
//	c, err := client.Dial(ctx, "ws://localhost:8000/ws")
//	globals, err := c.Attach(ctx, "globals")
//	globals.OnUpdate(func(diff ir.Values, _ map[string]string) {
//		if v, ok := diff["master"]; ok {
//			fmt.Println("master", v)
//		}
//	})
//	_, err = globals.Set(ctx, ir.Values{"master": ir.Float(0.5)}, nil)
package client
