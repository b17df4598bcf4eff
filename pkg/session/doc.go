/*
Package session serializes access to execution contexts.

Every event for one context (start, reply, timer, cancel) runs inside WithLock, so
two replicas or two goroutines never interleave steps of the same conversation.
Local mutexes are reference counted and dropped once idle; an optional
ports.DistributedLocker extends the guarantee across processes.
*/
package session
