//go:build !v8

package webapi

import (
	"testing"
	"time"

	"golang.org/x/text/language"
)

func intPtr(i int) *int { return &i }

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		name string
		opts intlOptions
		n    float64
		want string
	}{
		{"decimal", intlOptions{}, 1234.5, "1,234.5"},
		{"rounds to three digits", intlOptions{}, 0.12345, "0.123"},
		{"negative", intlOptions{}, -42, "-42"},
		{"percent", intlOptions{Style: "percent"}, 0.256, "26%"},
		{"min digits", intlOptions{MinimumFractionDigits: intPtr(2)}, 3, "3.00"},
		{"no grouping", intlOptions{UseGrouping: new(bool)}, 1234567, "1234567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatNumber(language.AmericanEnglish, tt.opts, tt.n)
			if err != nil {
				t.Fatalf("formatNumber: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatNumber_Errors(t *testing.T) {
	for name, opts := range map[string]intlOptions{
		"currency without code": {Style: "currency"},
		"bad currency":          {Style: "currency", Currency: "XX"},
		"bad style":             {Style: "scientific"},
		"digits out of range":   {MaximumFractionDigits: intPtr(101)},
	} {
		if _, err := formatNumber(language.AmericanEnglish, opts, 1); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestFormatDate(t *testing.T) {
	tests := []struct {
		name string
		opts intlOptions
		want string
	}{
		{"default", intlOptions{}, "1/1/1970"},
		{"full date", intlOptions{DateStyle: "full"}, "Thursday, January 1, 1970"},
		{"medium and short", intlOptions{DateStyle: "medium", TimeStyle: "short"}, "Jan 1, 1970, 12:00 AM"},
		{"24 hour", intlOptions{TimeStyle: "medium", HourCycle: "h23"}, "00:00:00"},
		{"long time", intlOptions{TimeStyle: "long"}, "12:00:00 AM UTC"},
		{"zone", intlOptions{DateStyle: "short", TimeStyle: "short", TimeZone: "Asia/Tokyo"}, "1/1/70, 9:00 AM"},
		{"components", intlOptions{Month: "long", Day: "numeric", Year: "numeric"}, "January 1, 1970"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatDate(language.AmericanEnglish, tt.opts, 0)
			if err != nil {
				t.Fatalf("formatDate: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := formatDate(language.AmericanEnglish, intlOptions{TimeZone: "Nowhere/Zone"}, 0); err == nil {
		t.Error("unknown zone accepted")
	}
	if _, err := formatDate(language.AmericanEnglish, intlOptions{DateStyle: "tiny"}, 0); err == nil {
		t.Error("unknown dateStyle accepted")
	}
}

func TestZoneName(t *testing.T) {
	ny, _, err := loadZone("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	kolkata, _, err := loadZone("Asia/Kolkata")
	if err != nil {
		t.Fatal(err)
	}
	winter := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		t    time.Time
		zone string
		long bool
		want string
	}{
		{winter, "UTC", false, "UTC"},
		{winter, "UTC", true, "Coordinated Universal Time"},
		{winter.In(ny), "America/New_York", false, "EST"},
		{winter.In(ny), "America/New_York", true, "Eastern Standard Time"},
		{winter.In(kolkata), "Asia/Kolkata", false, "GMT+5:30"},
		{winter.In(kolkata), "Asia/Kolkata", true, "GMT+05:30"},
	}
	for _, tt := range tests {
		if got := zoneName(tt.t, tt.zone, tt.long); got != tt.want {
			t.Errorf("zoneName(%s, long=%v) = %q, want %q", tt.zone, tt.long, got, tt.want)
		}
	}
}

func TestPluralCategory(t *testing.T) {
	tests := []struct {
		value   string
		ordinal bool
		want    string
	}{
		{"1", false, "one"},
		{"2", false, "other"},
		{"1.5", false, "other"},
		{"1", true, "one"},
		{"2", true, "two"},
		{"3", true, "few"},
		{"4", true, "other"},
	}
	for _, tt := range tests {
		if got := pluralCategory(language.English, tt.ordinal, tt.value); got != tt.want {
			t.Errorf("pluralCategory(%s, ordinal=%v) = %q, want %q", tt.value, tt.ordinal, got, tt.want)
		}
	}
}

func TestIntl_Script(t *testing.T) {
	rt := newRuntime(t)
	if err := SetupIntl(rt); err != nil {
		t.Fatalf("SetupIntl: %v", err)
	}

	tests := []struct {
		expr, want string
	}{
		{"new Intl.NumberFormat('en-US').format(1234.5)", "1,234.5"},
		{"(0.5).toLocaleString('en-US', { style: 'percent' })", "50%"},
		{"new Intl.PluralRules('en-US').select(1)", "one"},
		{"new Intl.Locale('en-Latn-US').baseName", "en-Latn-US"},
		{"new Date(0).toLocaleDateString('en-US', { timeZone: 'UTC' })", "1/1/1970"},
		{"Object.prototype.toString.call(new Intl.DateTimeFormat())", "[object Intl.DateTimeFormat]"},
	}
	for _, tt := range tests {
		if got := evalString(t, rt, tt.expr); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.expr, got, tt.want)
		}
	}

	got := evalString(t, rt, "(function() { try { new Intl.DateTimeFormat('en-US', { timeZone: 'Nowhere/Zone' }).format(0) } catch (e) { return e.constructor.name } })()")
	if got != "RangeError" {
		t.Errorf("bad zone threw %q", got)
	}
}
