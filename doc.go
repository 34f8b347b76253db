/*
Package pipechat is a conversational engine for assembling multimedia
analysis pipelines. Users describe what they want to analyze in plain
language; the engine recommends tools from a directory, validates that
each tool's inputs are satisfied by its predecessor's outputs, and
grows a pipeline graph one confirmed step at a time. Every decision is
emitted onto an ordered per-session event stream that clients can
replay after a disconnect.

# Concept

A session owns three things: the pipeline graph under construction,
the append-only event log, and a turn machine that serializes all
mutation. The reasoning capability (a chat model or a deterministic
keyword matcher) only proposes; the type compatibility validator and,
when asked, the human decide. This keeps the graph trustworthy even
when the model is not.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/avannotate/pipechat"
	)

	func main() {
		eng, err := pipechat.New()
		if err != nil {
			log.Fatal(err)
		}
		ctx := context.Background()
		defer eng.Shutdown(ctx)

		if err := eng.LoadCatalog(ctx); err != nil {
			log.Fatal(err)
		}

		sess := eng.NewSession()
		events, _ := sess.Subscribe(ctx, 0)
		go func() {
			for ev := range events {
				log.Printf("%s %v", ev.Type, ev.Data)
			}
		}()

		err = sess.Converse(ctx, pipechat.TurnInput{
			Message: "transcribe the speech in my video",
		})
		if err != nil {
			log.Fatal(err)
		}
	}

Hosts that need HTTP or MCP surfaces wire the registry, directory, and
store into the adapters under internal/adapters.
*/
package pipechat
