package core

import (
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		Date:        NewDate(2025, 1, 1),
		Description: "ok",
		Amount:      Money{Cents: 100},
		Primary:     "Cat",
		Secondary:   "Sub",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Expense{
		{Date: Date{Time: time.Time{}}, Description: "a", Amount: Money{Cents: 1}, Primary: "c", Secondary: "s"}, // zero date
		{Date: NewDate(2025, 1, 1), Description: "", Amount: Money{Cents: 1}, Primary: "c", Secondary: "s"},
		{Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 0}, Primary: "c", Secondary: "s"},
		{Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 1}, Primary: "", Secondary: "s"},
		{Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 1}, Primary: "c", Secondary: ""},
	}
	for i, e := range bads {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2025-03-09 ")
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if d.Year() != 2025 || d.Month() != time.March || d.Day() != 9 {
		t.Fatalf("unexpected date %v", d)
	}
	if d.String() != "2025-03-09" {
		t.Fatalf("unexpected format %q", d.String())
	}
	for _, in := range []string{"", "09/03/2025", "2025-13-01"} {
		if _, err := ParseDate(in); err != ErrInvalidDate {
			t.Fatalf("%q expected ErrInvalidDate, got %v", in, err)
		}
	}
}

func TestSummarize(t *testing.T) {
	expenses := []Expense{
		{Amount: Money{Cents: 500}, Primary: "Casa"},
		{Amount: Money{Cents: 1200}, Primary: "Spesa"},
		{Amount: Money{Cents: 700}, Primary: "Casa"},
		{Amount: Money{Cents: 300}, Primary: "Bar"},
	}
	o := Summarize(2025, 4, expenses)
	if o.Total.Cents != 2700 {
		t.Fatalf("expected total 2700, got %d", o.Total.Cents)
	}
	want := []CategoryAmount{
		{Name: "Casa", Amount: Money{Cents: 1200}},
		{Name: "Spesa", Amount: Money{Cents: 1200}},
		{Name: "Bar", Amount: Money{Cents: 300}},
	}
	if len(o.ByCategory) != len(want) {
		t.Fatalf("expected %d categories, got %d", len(want), len(o.ByCategory))
	}
	for i := range want {
		if o.ByCategory[i] != want[i] {
			t.Fatalf("category %d: expected %+v, got %+v", i, want[i], o.ByCategory[i])
		}
	}
}
