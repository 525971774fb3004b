package core

import "sort"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// MonthOverview is a compact summary for a specific year+month.
type MonthOverview struct {
	Year       int
	Month      int // 1-12
	Total      Money
	ByCategory []CategoryAmount
}

// Summarize totals expenses by primary category, largest first.
func Summarize(year, month int, expenses []Expense) MonthOverview {
	overview := MonthOverview{Year: year, Month: month}
	sums := make(map[string]int64)
	for _, e := range expenses {
		overview.Total.Cents += e.Amount.Cents
		sums[e.Primary] += e.Amount.Cents
	}
	for name, cents := range sums {
		overview.ByCategory = append(overview.ByCategory, CategoryAmount{Name: name, Amount: Money{Cents: cents}})
	}
	sort.Slice(overview.ByCategory, func(i, j int) bool {
		a, b := overview.ByCategory[i], overview.ByCategory[j]
		if a.Amount.Cents != b.Amount.Cents {
			return a.Amount.Cents > b.Amount.Cents
		}
		return a.Name < b.Name
	})
	return overview
}
