package ledger

import "math"

// BlendCost computes the weighted-average unit cost after receiving stock.
// receivedQty is always positive by construction, so the denominator can
// only be zero when previousQty is negative, which the stock guards prevent.
func BlendCost(previousQty int64, previousCost float64, receivedQty int64, receivedCost float64) float64 {
	total := previousQty + receivedQty
	if total <= 0 {
		return receivedCost
	}
	return (float64(previousQty)*previousCost + float64(receivedQty)*receivedCost) / float64(total)
}

// ReverseCost solves for the pre-receiving unit cost when a receiving is
// undone. Manual edits between the receiving and its undo can drift the
// quantity or cost out from under the formula; the policy is best effort:
//   - nothing remains after reversal: cost resets to 0
//   - the computed cost is negative or non-finite: fall back to the cost
//     recorded on the original operation line
//
// Undo must stay available even when downstream data drifted, so drift never
// hard-fails here.
func ReverseCost(currentQty int64, currentCost float64, receivedQty int64, receivedCost, fallbackCost float64) float64 {
	remaining := currentQty - receivedQty
	if remaining <= 0 {
		return 0
	}
	reversed := (float64(currentQty)*currentCost - float64(receivedQty)*receivedCost) / float64(remaining)
	if reversed < 0 || math.IsNaN(reversed) || math.IsInf(reversed, 0) {
		return fallbackCost
	}
	return reversed
}
