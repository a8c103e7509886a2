package credit

// DeriveLabel computes the post-hoc quality tag for a credit whose life has
// ended (closed, or renewed away while still owing). The tag summarizes how
// the credit was serviced:
//
//	excellent  closed with no fines and no deferrals
//	good       closed with at most two fines or deferrals combined
//	late       closed but needed more than two fines/deferrals
//	incomplete renewed (or abandoned) with capital still outstanding
//
// Labels are display metadata only; nothing downstream computes from them.
func DeriveLabel(status Status, renewed bool, fineCount, deferralCount int) Label {
	if status != StatusClosed {
		if renewed {
			return LabelIncomplete
		}
		return LabelNone
	}
	blemishes := fineCount + deferralCount
	switch {
	case blemishes == 0:
		return LabelExcellent
	case blemishes <= 2:
		return LabelGood
	default:
		return LabelLate
	}
}
