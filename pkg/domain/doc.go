/*
Package domain contains the core domain models of the atendechat flow engine.

It defines the flow graph (FlowDefinition, Node, Connection), the per-conversation
execution state (ExecutionContext), the inbound events that resume a suspended
context, the media shapes handed to the transport, and the error taxonomy.
This package is kept pure and free of I/O, following Hexagonal Architecture principles.

# Key Entities

  - FlowDefinition: the operator-authored graph of nodes and connections.
  - Node: a closed variant over Message, Interval, Question, MediaSend,
    ExternalIntegration and Terminal, with one payload shape per kind.
  - Connection: a directed edge, optionally tagged with a branch handle.
  - ExecutionContext: the live traversal of one flow for one conversation.
  - MessagePayload: a send-ready message (text, image, video, audio, document).
*/
package domain
