// Package recording decides which stations should be capturing and converges
// the running captures toward that decision.
//
// Decide is a pure function of a station, the observed captures for it, and
// the current time. It implements one transition table covering every restart
// reason: a capture outside its window is stopped, a capture writing into a
// stale date partition is replaced in the same tick, and an always-on capture
// launched before the current hour began is replaced so each hour starts on a
// clean segment boundary. The frequent check and the top-of-hour tick both run
// the same table.
//
// Controller carries the explicit context each evaluation needs (config,
// catalog, launcher, registry, resolver) and applies Decide's actions. Launches
// are gated on free disk space and on the capture tool being usable. Manual
// captures bypass the table and are never stopped by it.
package recording
