// Package lock holds the Session Authority, the single owner of the lock
// state shared by every protected page, together with the persistent store
// for settings and the credential, and the Monitor that enforces the
// inactivity timeout.
//
// Pages never mutate lock state directly. They send requests (query,
// unlock-granted, lock-requested, reset-authorized, heartbeat) and react
// to the events the Authority broadcasts.
package lock
