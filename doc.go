/*
Package atendechat runs automated WhatsApp conversations described as flow graphs.

A flow is a directed graph of nodes (message, interval, question, media, integration,
terminal) joined by connections. Each conversation started on a flow gets an execution
context bound to a snapshot of the graph; the engine walks it node by node, sending
messages, until the context parks on a wait (an interval or an unanswered question) or
reaches a terminal.

# Concept

The interpreter never blocks on a wait. Parking registers a durable timer and persists
the context; the conversation continues when either the timer fires or the contact
replies, whichever comes first. Timers live in a store, so a restarted process picks up
where the previous one stopped. Each context is processed under its own lock, and every
step is persisted before the next event is accepted.

# Key Features

  - Durable waits: timers are stored and fired exactly once, even across restarts.
  - Hexagonal Architecture: storage, transport and integrations are ports (pkg/ports) with
    memory, Redis, SQLite, file, NATS and process adapters.
  - Audio normalization: recorded voice notes and audio files are transcoded to the profile
    the receiving client expects.
  - Activation checks: flows are validated before any conversation starts on them.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/listiago/atendechat"
		"github.com/listiago/atendechat/pkg/adapters/memory"
		"github.com/listiago/atendechat/pkg/domain"
	)

	func main() {
		eng, err := atendechat.New(atendechat.WithTransport(memory.NewTransport()))
		if err != nil {
			log.Fatal(err)
		}

		ctx := context.Background()
		go eng.Run(ctx) // fire timers

		ec, err := eng.StartFlow(ctx, flow, domain.Trigger{
			Recipient: domain.Recipient{Number: "5511999990000"},
		})
		if err != nil {
			log.Fatal(err)
		}

		// Later, when the contact answers:
		ec, err = eng.Reply(ctx, ec.ID, "Ana")
	}
*/
package atendechat
