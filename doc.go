// Package chatrelay and its sub-packages implement a backend relay between chat users, a persistence store and a
// CosmWasm chat contract on a Cosmos SDK chain.
/*
chatrelay provides one service (package relay) with two faces:

1) a JSON API over HTTP to register users, log them in, manage chat groups and post group messages to the chat
 contract.

2) a websocket channel (package relay/hub) where connected users exchange direct messages in real time.

Architecture

Registering a user generates a chain account for them, funds it from a faucet account, waits until the chain reports
the account, registers the username with the contract and finally stores the identity (package relay/provision). Each
stage is journaled in the store and published to the message broker, so a failed registration shows which side
effects already happened.

Group operations (package relay/command) sign contract executions with the caller's key and keep a snapshot of the
groups in the store. Membership changes and permission checks only touch the snapshot.

The chain layer (package lib/block) talks to a node's REST gateway: account lookups, smart queries and signed
transactions built and signed locally (package lib/block/cosmos). The store layer (package lib/store) has MongoDB,
PostgreSQL and in-memory implementations selected in the config file. The message broker layer (package lib/msg)
relays direct messages between relay instances, so a message reaches its recipient whichever instance holds the
connection.

The relay can be monitored via a Prometheus API by setting the flag "-m" at startup.

Relay

The relay can be started running cmd/relay/main.go with a JSON config file (flag "-c"). Every setting can be
overridden with CHR_ prefixed environment variables or a .env file; FAUCET_MNEMONIC, MONGODB_URI and PORT are also
read.

*/
package chatrelay
