// Package web3 houses blockchain connectivity utilities used by agents to
// read live network state: a chain client interface, an EVM implementation,
// and multi-chain configuration helpers. Context descriptors themselves are
// chain-agnostic metadata; this layer only serves read-style queries such as
// chain snapshots and balance lookups.
package web3
