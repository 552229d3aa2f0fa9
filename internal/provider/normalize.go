package provider

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

func errUnsupported(name string, op Op) error {
	return eris.Errorf("provider: %s does not support %s", name, op)
}

// fundingStageFromString maps provider round labels onto the canonical
// funding stage buckets. Unknown labels map to the empty stage.
func fundingStageFromString(s string) model.FundingStage {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pre_seed", "pre-seed", "preseed", "angel":
		return model.FundingPreSeed
	case "seed":
		return model.FundingSeed
	case "series_a", "series a":
		return model.FundingSeriesA
	case "series_b", "series b":
		return model.FundingSeriesB
	case "series_c", "series c":
		return model.FundingSeriesC
	case "series_d", "series d", "series_e", "series_f", "series_g",
		"series_d_plus", "private_equity", "growth":
		return model.FundingSeriesD
	case "ipo", "public", "post_ipo_equity", "post_ipo_debt":
		return model.FundingPublic
	case "bootstrapped", "self_funded":
		return model.FundingBootstrap
	default:
		return ""
	}
}

// seniorityFromString maps provider seniority labels onto the canonical
// levels.
func seniorityFromString(s string) model.SeniorityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c_suite", "c-suite", "c_level", "cxo", "founder", "owner", "partner", "executive":
		return model.SeniorityCLevel
	case "vp", "vice_president", "head":
		return model.SeniorityVP
	case "director":
		return model.SeniorityDirector
	case "manager", "senior":
		return model.SeniorityManager
	case "entry", "individual", "junior", "intern":
		return model.SeniorityIC
	default:
		return ""
	}
}
