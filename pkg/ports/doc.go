/*
Package ports defines the driven ports (interfaces) of the atendechat engine.

These interfaces decouple the flow interpreter from storage backends, the messaging
transport and external collaborators.

# Key Interfaces

  - FlowLoader: fetches a FlowDefinition by tenant and id (file, memory).
  - ContextStore: persists ExecutionContexts after every step (memory, redis, sqlite).
  - TimerStore: durable wake-up registrations for the WaitScheduler.
  - DistributedLocker: serializes steps of one context across replicas.
  - Transport, TicketUpdater: deliver messages and update the ticket cache.
  - IntegrationInvoker: runs ExternalIntegration calls.

Reusable contract suites (RunContextStoreContract, RunTimerStoreContract) let every adapter
prove it honors the same semantics.
*/
package ports
