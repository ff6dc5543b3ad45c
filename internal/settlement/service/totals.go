package service

import (
	ledgerdomain "github.com/Nobledental/NOBLE-OS-sub002/internal/ledger/domain"
	"github.com/Nobledental/NOBLE-OS-sub002/internal/settlement/domain"
)

// ComputeTotals sums transaction amounts per channel. The second return
// value counts transactions still awaiting verification.
func ComputeTotals(txns []ledgerdomain.Transaction) (domain.ChannelTotals, int) {
	var (
		totals     domain.ChannelTotals
		unverified int
	)
	for _, txn := range txns {
		switch txn.Channel {
		case ledgerdomain.ChannelCash:
			totals.Cash += txn.Amount
		case ledgerdomain.ChannelUPI:
			totals.UPI += txn.Amount
		case ledgerdomain.ChannelCard:
			totals.Card += txn.Amount
		default:
			continue
		}
		totals.Count++
		if !txn.Verified {
			unverified++
		}
	}
	totals.Grand = totals.Cash + totals.UPI + totals.Card
	return totals, unverified
}
