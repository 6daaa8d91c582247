// Package bot routes inbound chat events: registration on /start,
// self-service department selection, the admin broadcast flow
// (target -> text -> fan-out), statistics, and the broadcast log.
//
// The admin flow is a small per-user state machine held only in memory
// (Sessions); everything durable lives in the registry.
package bot
