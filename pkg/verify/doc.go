// Package verify is the GP Verification Engine (spec §4.4): the
// hypergeometric noshow-as-dud model, per-tester pack-budget bookkeeping,
// the confidence/recommendation formulas, and the TTL'd GPStatistics
// cache.
package verify
