// Package metrics exposes opencensus measures for the hub's hot paths.
package metrics

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	Reason, _  = tag.NewKey("reason")
	Outcome, _ = tag.NewKey("outcome")
)

var (
	UpdatesAccepted    = stats.Int64("hub/updates_accepted", "accepted channel updates", stats.UnitDimensionless)
	Invalidations      = stats.Int64("hub/invalidations", "invalidation updates produced", stats.UnitDimensionless)
	Collateralizations = stats.Int64("hub/collateralizations", "hub collateral deposits proposed", stats.UnitDimensionless)
	ChainTxTerminal    = stats.Int64("hub/chain_tx_terminal", "logical chain transactions reaching a terminal state", stats.UnitDimensionless)
	DisputesStarted    = stats.Int64("hub/disputes_started", "unilateral exits started", stats.UnitDimensionless)
)

var Views = []*view.View{
	{Name: "hub/updates_accepted", Measure: UpdatesAccepted, Aggregation: view.Count(), TagKeys: []tag.Key{Reason}},
	{Name: "hub/invalidations", Measure: Invalidations, Aggregation: view.Count()},
	{Name: "hub/collateralizations", Measure: Collateralizations, Aggregation: view.Count()},
	{Name: "hub/chain_tx_terminal", Measure: ChainTxTerminal, Aggregation: view.Count(), TagKeys: []tag.Key{Outcome}},
	{Name: "hub/disputes_started", Measure: DisputesStarted, Aggregation: view.Count()},
}

func Register() error {
	return view.Register(Views...)
}

func RecordOne(ctx context.Context, m *stats.Int64Measure, tags ...tag.Mutator) {
	_ = stats.RecordWithTags(ctx, tags, m.M(1))
}
