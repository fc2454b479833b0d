package report

import "sort"

// AccountStats holds per-account success/failure tallies.
type AccountStats struct {
	Account     string  `json:"account"`
	Success     int     `json:"success"`
	Failure     int     `json:"failure"`
	SuccessRate float64 `json:"success_rate"`
	LoginFailed bool    `json:"login_failed"`
	NoItems     bool    `json:"no_items"`
}

// Summary is the aggregate view over one run's records.
type Summary struct {
	Accounts     []AccountStats `json:"accounts"`
	TotalSuccess int            `json:"total_success"`
	TotalFailure int            `json:"total_failure"`
	SuccessRate  float64        `json:"success_rate"`
}

// Aggregate groups records by account and computes per-account and overall
// counts and rates. It is a pure function over its inputs and safe to call
// repeatedly on the same frozen list.
func Aggregate(records []OutcomeRecord, runs []AccountRun) Summary {
	perAccount := make(map[string]*AccountStats)

	ensure := func(account string) *AccountStats {
		stats, ok := perAccount[account]
		if !ok {
			stats = &AccountStats{Account: account}
			perAccount[account] = stats
		}
		return stats
	}

	for _, run := range runs {
		stats := ensure(run.Account)
		stats.LoginFailed = run.LoginFailed
		stats.NoItems = run.NoItems
	}

	summary := Summary{}
	for _, record := range records {
		stats := ensure(record.Account)
		switch record.Status {
		case StatusSuccess:
			stats.Success++
			summary.TotalSuccess++
		case StatusFailure:
			stats.Failure++
			summary.TotalFailure++
		}
	}

	accounts := make([]AccountStats, 0, len(perAccount))
	for _, stats := range perAccount {
		if total := stats.Success + stats.Failure; total > 0 {
			stats.SuccessRate = float64(stats.Success) / float64(total)
		}
		accounts = append(accounts, *stats)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Account < accounts[j].Account
	})
	summary.Accounts = accounts

	if total := summary.TotalSuccess + summary.TotalFailure; total > 0 {
		summary.SuccessRate = float64(summary.TotalSuccess) / float64(total)
	}
	return summary
}
