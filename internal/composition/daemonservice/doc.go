// Package daemonservice assembles the inbox service the daemon exposes over
// RPC: the encrypted stores, the ledger client, the wallet backend and the
// sync engine, together with the notification hub and poll-loop runtime the
// transport layer drives.
package daemonservice
