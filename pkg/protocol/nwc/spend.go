package nwc

import (
	"time"

	"nwcp.dev/pkg/utils/chk"
	"nwcp.dev/pkg/utils/context"
	"nwcp.dev/pkg/utils/log"
)

type spendOutcome struct {
	inBudget bool
	result   any
}

// trackedSpend admits a spend of amountMsats for pubkey through the
// execution queue. Inside the single consumer it checks every budget's
// current cycle against the spend ledger, runs action only when all of
// them hold, and records the spend. The queue makes the check-then-act
// linearizable: no two spends can both observe the pre-spend ledger.
func (p *Provider) trackedSpend(
	ctx context.T, pubkey string, amountMsats int64,
	action func() (result any, err error),
) (inBudget bool, result any, err error) {
	out, err := p.queue.Do(ctx, func() (any, error) {
		now := p.now()
		budgets, err := p.store.GetBudgets(pubkey)
		if chk.E(err) {
			return nil, err
		}
		for _, b := range budgets {
			from, until := b.CycleWindow(now)
			spent, err := p.store.SpentInWindow(pubkey, from, until)
			if chk.E(err) {
				return nil, err
			}
			if spent+amountMsats > b.BudgetMsats {
				log.I.F(
					"budget %d refused %d msats for %s: %d of %d spent in cycle",
					b.ID, amountMsats, pubkey, spent, b.BudgetMsats,
				)
				return spendOutcome{}, nil
			}
		}
		res, err := action()
		if err != nil {
			return nil, err
		}
		// the payment went through; a ledger write failure must not
		// convert it into a client-visible error
		chk.E(p.store.RecordSpend(pubkey, amountMsats, now))
		return spendOutcome{inBudget: true, result: res}, nil
	})
	if err != nil {
		return false, nil, err
	}
	o := out.(spendOutcome)
	return o.inBudget, o.result, nil
}

// now returns the provider's current unix time, swappable in tests.
func (p *Provider) now() int64 {
	if p.clock != nil {
		return p.clock()
	}
	return time.Now().Unix()
}
