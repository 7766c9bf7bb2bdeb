// Package agent constructs the executors that consume context descriptors
// and carry out instructions against them. Agent kinds map to hard-coded
// implementations via a type switch in the factory; each agent resolves its
// target context through the registry, passes the permission-policy check,
// and signs execution receipts with its in-memory wallet. No agent submits
// real on-chain transactions in the reference implementation.
package agent
