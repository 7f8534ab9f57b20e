// Package classifier labels a transaction's transfers from a tracked wallet's
// point of view.
package classifier

import (
	"tradeledger/internal/chain"
	"tradeledger/internal/tracker"
)

type Kind string

const (
	Buy    Kind = "BUY"
	Sell   Kind = "SELL"
	Swap   Kind = "SWAP"
	Ignore Kind = "IGNORE"
)

// Result of classifying one transaction. Sold is set for SELL and SWAP,
// Bought for BUY and SWAP.
type Result struct {
	Kind      Kind
	TxHash    string
	AgentID   string
	Wallet    string
	Sold      *chain.Transfer
	Bought    *chain.Transfer
	IsDexSwap bool
}

type Classifier struct {
	isRouter func(string) bool
}

// New returns a Classifier using isRouter as the DEX router allow-list.
func New(isRouter func(string) bool) *Classifier {
	if isRouter == nil {
		isRouter = func(string) bool { return false }
	}
	return &Classifier{isRouter: isRouter}
}

// GroupByTx splits transfers by transaction hash, keeping first-seen order
// of transactions and the original order inside each group.
func GroupByTx(transfers []chain.Transfer) [][]chain.Transfer {
	index := make(map[string]int)
	var groups [][]chain.Transfer
	for _, t := range transfers {
		i, ok := index[t.TxHash]
		if !ok {
			i = len(groups)
			index[t.TxHash] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], t)
	}
	return groups
}

// Classify expects all transfers of one transaction.
func (c *Classifier) Classify(group []chain.Transfer, tracked tracker.Snapshot) Result {
	if len(group) == 0 {
		return Result{Kind: Ignore}
	}
	res := Result{Kind: Ignore, TxHash: group[0].TxHash}

	for _, t := range group {
		if agent, ok := tracked.Agent(t.From); ok && t.From != "" {
			res.Wallet, res.AgentID = t.From, agent
			break
		}
		if agent, ok := tracked.Agent(t.To); ok && t.To != "" {
			res.Wallet, res.AgentID = t.To, agent
			break
		}
	}
	if res.Wallet == "" {
		return res
	}

	var incoming, outgoing []int
	for i, t := range group {
		if t.From == t.To {
			continue
		}
		switch res.Wallet {
		case t.To:
			incoming = append(incoming, i)
		case t.From:
			outgoing = append(outgoing, i)
		}
		if c.isRouter(t.From) || c.isRouter(t.To) || (t.TxTo != "" && c.isRouter(t.TxTo)) {
			res.IsDexSwap = true
		}
	}

	switch {
	case len(incoming) > 0 && len(outgoing) > 0:
		res.Kind = Swap
		res.Sold = &group[outgoing[0]]
		res.Bought = &group[incoming[0]]
	case len(incoming) > 0:
		res.Kind = Buy
		res.Bought = &group[incoming[0]]
	case len(outgoing) > 0:
		res.Kind = Sell
		res.Sold = &group[outgoing[0]]
	}
	return res
}
