package pipeline

import "github.com/JakeFAU/county-wage-etl/internal/model"

// DetermineStatus applies the run status policy. A run whose share of
// successful entities meets minRate is SUCCESS without rejects and PARTIAL
// with them; otherwise, including when nothing was processed, it is FAILED.
func DetermineStatus(processed, succeeded, rejects int, minRate float64) model.RunStatus {
	if processed <= 0 {
		return model.RunFailed
	}
	if float64(succeeded)/float64(processed) < minRate {
		return model.RunFailed
	}
	if rejects > 0 {
		return model.RunPartial
	}
	return model.RunSuccess
}
