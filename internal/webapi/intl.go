package webapi

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // timeZone option must not depend on the host zoneinfo

	"github.com/bytedance/sonic"
	"golang.org/x/text/currency"
	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/cryguy/jsvm/internal/core"
)

// intlJS builds the Intl namespace on top of __jsvm_intl. Locale data and
// all formatting live in Go; the classes only hold options.
const intlJS = `
(function() {
	function call(op, locale, options, value) {
		var r = JSON.parse(__jsvm_intl(op, locale, JSON.stringify(options || {}), String(value)));
		if (r.err) {
			var C = typeof globalThis[r.err] === 'function' ? globalThis[r.err] : Error;
			throw new C(r.msg);
		}
		return r.ok;
	}

	function pickLocale(locales) {
		if (locales === undefined || locales === null) return 'en-US';
		if (Array.isArray(locales)) return locales.length ? pickLocale(locales[0]) : 'en-US';
		if (locales instanceof Locale) return locales.toString();
		return String(locales);
	}

	class Locale {
		#info;
		constructor(tag, options) {
			if (tag instanceof Locale) tag = tag.toString();
			if (typeof tag !== 'string' || tag === '') {
				throw new TypeError("First argument to Intl.Locale constructor can't be empty or missing");
			}
			this.#info = call('locale', tag, options, '');
		}
		get baseName() { return this.#info.baseName; }
		get language() { return this.#info.language; }
		get script() { return this.#info.script || undefined; }
		get region() { return this.#info.region || undefined; }
		get calendar() { return this.#info.calendar || undefined; }
		get hourCycle() { return this.#info.hourCycle || undefined; }
		get numberingSystem() { return this.#info.numberingSystem || undefined; }
		maximize() { return new Locale(this.#info.maximized); }
		minimize() { return new Locale(this.#info.minimized); }
		toString() { return this.#info.tag; }
		get [Symbol.toStringTag]() { return 'Intl.Locale'; }
	}

	class PluralRules {
		#locale;
		#type;
		constructor(locales, options) {
			this.#locale = call('canonical', pickLocale(locales), null, '');
			this.#type = (options && options.type) || 'cardinal';
			if (this.#type !== 'cardinal' && this.#type !== 'ordinal') {
				throw new RangeError('Value ' + this.#type + ' out of range for Intl.PluralRules options property type');
			}
		}
		select(n) { return call('plural', this.#locale, { type: this.#type }, Number(n)); }
		resolvedOptions() { return { locale: this.#locale, type: this.#type }; }
		get [Symbol.toStringTag]() { return 'Intl.PluralRules'; }
	}

	class NumberFormat {
		#locale;
		#options;
		constructor(locales, options) {
			this.#locale = call('canonical', pickLocale(locales), null, '');
			this.#options = Object.assign({}, options || {});
			call('number', this.#locale, this.#options, 0);
		}
		format(n) { return call('number', this.#locale, this.#options, Number(n)); }
		formatToParts(n) { return [{ type: 'literal', value: this.format(n) }]; }
		resolvedOptions() {
			return Object.assign({ locale: this.#locale, numberingSystem: 'latn', style: 'decimal' }, this.#options);
		}
		get [Symbol.toStringTag]() { return 'Intl.NumberFormat'; }
	}

	class DateTimeFormat {
		#locale;
		#options;
		constructor(locales, options) {
			this.#locale = call('canonical', pickLocale(locales), null, '');
			this.#options = Object.assign({}, options || {});
			this.#options.timeZone = call('zone', this.#locale, this.#options, '');
		}
		format(d) {
			var ms = d === undefined ? Date.now() : +d;
			return call('date', this.#locale, this.#options, ms);
		}
		formatToParts(d) { return [{ type: 'literal', value: this.format(d) }]; }
		resolvedOptions() {
			return Object.assign({ locale: this.#locale, calendar: 'gregory', numberingSystem: 'latn' }, this.#options);
		}
		get [Symbol.toStringTag]() { return 'Intl.DateTimeFormat'; }
	}

	function withDefaults(options, defaults) {
		var o = Object.assign({}, options || {});
		var keys = ['weekday', 'year', 'month', 'day', 'hour', 'minute', 'second', 'dateStyle', 'timeStyle'];
		for (var i = 0; i < keys.length; i++) {
			if (o[keys[i]] !== undefined) return o;
		}
		return Object.assign(o, defaults);
	}

	var Intl = {
		Locale: Locale,
		PluralRules: PluralRules,
		NumberFormat: NumberFormat,
		DateTimeFormat: DateTimeFormat,
		getCanonicalLocales: function(locales) {
			if (locales === undefined) return [];
			var list = Array.isArray(locales) ? locales : [locales];
			var out = [];
			for (var i = 0; i < list.length; i++) {
				var c = call('canonical', pickLocale(list[i]), null, '');
				if (out.indexOf(c) === -1) out.push(c);
			}
			return out;
		}
	};
	Object.defineProperty(globalThis, 'Intl', { value: Intl, writable: true, configurable: true, enumerable: false });

	Date.prototype.toLocaleString = function(locales, options) {
		return new DateTimeFormat(locales, options).format(this);
	};
	Date.prototype.toLocaleDateString = function(locales, options) {
		return new DateTimeFormat(locales, withDefaults(options, { year: 'numeric', month: 'numeric', day: 'numeric' })).format(this);
	};
	Date.prototype.toLocaleTimeString = function(locales, options) {
		return new DateTimeFormat(locales, withDefaults(options, { hour: 'numeric', minute: '2-digit', second: '2-digit' })).format(this);
	};
	Number.prototype.toLocaleString = function(locales, options) {
		return new NumberFormat(locales, options).format(this);
	};
})();
`

// intlError becomes a thrown script error of the named constructor.
type intlError struct {
	ctor string
	msg  string
}

func (e *intlError) Error() string { return e.ctor + ": " + e.msg }

func rangeErr(format string, args ...any) error {
	return &intlError{ctor: "RangeError", msg: fmt.Sprintf(format, args...)}
}

type intlOptions struct {
	// Locale
	Calendar  string `json:"calendar"`
	HourCycle string `json:"hourCycle"`

	// NumberFormat
	Style                 string `json:"style"`
	Currency              string `json:"currency"`
	CurrencyDisplay       string `json:"currencyDisplay"`
	MinimumFractionDigits *int   `json:"minimumFractionDigits"`
	MaximumFractionDigits *int   `json:"maximumFractionDigits"`
	UseGrouping           *bool  `json:"useGrouping"`

	// PluralRules
	Type string `json:"type"`

	// DateTimeFormat
	DateStyle    string `json:"dateStyle"`
	TimeStyle    string `json:"timeStyle"`
	TimeZone     string `json:"timeZone"`
	TimeZoneName string `json:"timeZoneName"`
	Hour12       *bool  `json:"hour12"`
	Weekday      string `json:"weekday"`
	Year         string `json:"year"`
	Month        string `json:"month"`
	Day          string `json:"day"`
	Hour         string `json:"hour"`
	Minute       string `json:"minute"`
	Second       string `json:"second"`
}

// SetupIntl installs the Intl namespace and routes the locale-sensitive
// Date and Number methods through it.
func SetupIntl(rt core.JSRuntime) error {
	if err := rt.RegisterFunc("__jsvm_intl", func(op, locale, options, value string) string {
		out, err := intlCall(op, locale, options, value)
		if err != nil {
			var ie *intlError
			if !errors.As(err, &ie) {
				ie = &intlError{ctor: "RangeError", msg: err.Error()}
			}
			s, _ := sonic.MarshalString(map[string]string{"err": ie.ctor, "msg": ie.msg})
			return s
		}
		s, err := sonic.MarshalString(map[string]any{"ok": out})
		if err != nil {
			return `{"err":"Error","msg":"intl: unencodable result"}`
		}
		return s
	}); err != nil {
		return err
	}
	return rt.Eval(intlJS)
}

func intlCall(op, locale, rawOpts, value string) (any, error) {
	var opts intlOptions
	if rawOpts != "" {
		if err := sonic.UnmarshalString(rawOpts, &opts); err != nil {
			return nil, &intlError{ctor: "TypeError", msg: "invalid options: " + err.Error()}
		}
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, rangeErr("Incorrect locale information provided")
	}

	switch op {
	case "canonical":
		return tag.String(), nil
	case "locale":
		return localeInfo(tag, opts)
	case "plural":
		return pluralCategory(tag, opts.Type == "ordinal", value), nil
	case "number":
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			n = math.NaN()
		}
		return formatNumber(tag, opts, n)
	case "zone":
		_, name, err := loadZone(opts.TimeZone)
		return name, err
	case "date":
		ms, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
			return nil, rangeErr("Invalid time value")
		}
		return formatDate(tag, opts, ms)
	}
	return nil, fmt.Errorf("unknown intl operation %q", op)
}

func localeInfo(tag language.Tag, opts intlOptions) (map[string]string, error) {
	var err error
	if opts.Calendar != "" {
		if tag, err = tag.SetTypeForKey("ca", opts.Calendar); err != nil {
			return nil, rangeErr("Incorrect locale information provided")
		}
	}
	if opts.HourCycle != "" {
		if tag, err = tag.SetTypeForKey("hc", opts.HourCycle); err != nil {
			return nil, rangeErr("Incorrect locale information provided")
		}
	}

	base, script, region := tag.Raw()
	info := map[string]string{
		"tag":             tag.String(),
		"language":        base.String(),
		"calendar":        tag.TypeForKey("ca"),
		"hourCycle":       tag.TypeForKey("hc"),
		"numberingSystem": tag.TypeForKey("nu"),
	}
	parts := []string{base.String()}
	if s := script.String(); s != "Zzzz" {
		info["script"] = s
		parts = append(parts, s)
	}
	if r := region.String(); r != "ZZ" {
		info["region"] = r
		parts = append(parts, r)
	}
	info["baseName"] = strings.Join(parts, "-")

	// Likely-subtag expansion keeps any -u- extension of the original.
	mb, _ := tag.Base()
	ms, _ := tag.Script()
	mr, _ := tag.Region()
	maxTag, err := language.Compose(mb, ms, mr)
	if err != nil {
		maxTag = tag
	}
	info["maximized"] = withExtensions(maxTag, tag)
	info["minimized"] = withExtensions(language.Make(base.String()), tag)
	return info, nil
}

func withExtensions(dst, src language.Tag) string {
	out := dst.String()
	for _, ext := range src.Extensions() {
		out += "-" + ext.String()
	}
	return out
}

func pluralCategory(tag language.Tag, ordinal bool, s string) string {
	s = strings.TrimPrefix(s, "-")
	if strings.ContainsAny(s, "eEIN") {
		return "other"
	}
	intPart, frac, _ := strings.Cut(s, ".")
	if len(intPart) > 9 {
		intPart = intPart[len(intPart)-9:]
	}
	i, _ := strconv.Atoi(intPart)
	f, _ := strconv.Atoi(frac)
	trimmed := strings.TrimRight(frac, "0")
	t, _ := strconv.Atoi(trimmed)

	rules := plural.Cardinal
	if ordinal {
		rules = plural.Ordinal
	}
	switch rules.MatchPlural(tag, i, len(frac), len(trimmed), f, t) {
	case plural.Zero:
		return "zero"
	case plural.One:
		return "one"
	case plural.Two:
		return "two"
	case plural.Few:
		return "few"
	case plural.Many:
		return "many"
	}
	return "other"
}

func formatNumber(tag language.Tag, opts intlOptions, n float64) (string, error) {
	minFD, maxFD := 0, 3
	var prefix, suffix string
	p := message.NewPrinter(tag)

	switch opts.Style {
	case "", "decimal":
	case "percent":
		n *= 100
		maxFD = 0
		suffix = "%"
	case "currency":
		if opts.Currency == "" {
			return "", &intlError{ctor: "TypeError", msg: "Currency code is required with currency style."}
		}
		unit, err := currency.ParseISO(opts.Currency)
		if err != nil {
			return "", rangeErr("Invalid currency code : %s", opts.Currency)
		}
		scale, _ := currency.Standard.Rounding(unit)
		minFD, maxFD = scale, scale
		switch opts.CurrencyDisplay {
		case "code":
			prefix = unit.String() + " "
		case "name":
			suffix = " " + unit.String()
		default:
			prefix = p.Sprint(currency.Symbol(unit))
		}
	default:
		return "", rangeErr("Value %s out of range for Intl.NumberFormat options property style", opts.Style)
	}

	if opts.MinimumFractionDigits != nil {
		if *opts.MinimumFractionDigits < 0 || *opts.MinimumFractionDigits > 100 {
			return "", rangeErr("minimumFractionDigits value is out of range.")
		}
		minFD = *opts.MinimumFractionDigits
		if maxFD < minFD {
			maxFD = minFD
		}
	}
	if opts.MaximumFractionDigits != nil {
		if *opts.MaximumFractionDigits < 0 || *opts.MaximumFractionDigits > 100 {
			return "", rangeErr("maximumFractionDigits value is out of range.")
		}
		maxFD = *opts.MaximumFractionDigits
		if minFD > maxFD {
			minFD = maxFD
		}
	}

	switch {
	case math.IsNaN(n):
		return "NaN", nil
	case math.IsInf(n, 1):
		return prefix + "∞" + suffix, nil
	case math.IsInf(n, -1):
		return "-" + prefix + "∞" + suffix, nil
	}

	neg := n < 0
	abs := math.Abs(n)
	pow := math.Pow10(maxFD)
	abs = math.Round(abs*pow) / pow

	numOpts := []number.Option{number.MinFractionDigits(minFD), number.MaxFractionDigits(maxFD)}
	if opts.UseGrouping != nil && !*opts.UseGrouping {
		numOpts = append(numOpts, number.NoSeparator())
	}
	out := prefix + p.Sprint(number.Decimal(abs, numOpts...)) + suffix
	if neg && abs != 0 {
		out = "-" + out
	}
	return out, nil
}

// loadZone resolves a timeZone option. The empty zone is UTC.
func loadZone(name string) (*time.Location, string, error) {
	if name == "" || strings.EqualFold(name, "UTC") || strings.EqualFold(name, "Etc/UTC") {
		return time.UTC, "UTC", nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, "", rangeErr("Invalid time zone specified: %s", name)
	}
	return loc, loc.String(), nil
}

var usZoneNames = map[string]string{
	"EST": "Eastern Standard Time", "EDT": "Eastern Daylight Time",
	"CST": "Central Standard Time", "CDT": "Central Daylight Time",
	"MST": "Mountain Standard Time", "MDT": "Mountain Daylight Time",
	"PST": "Pacific Standard Time", "PDT": "Pacific Daylight Time",
	"AKST": "Alaska Standard Time", "AKDT": "Alaska Daylight Time",
	"HST": "Hawaii-Aleutian Standard Time",
}

func isUSZone(name string) bool {
	return strings.HasPrefix(name, "America/") || strings.HasPrefix(name, "US/") || name == "Pacific/Honolulu"
}

// zoneName renders a zone the way en-US does: US abbreviations for US
// zones, UTC for UTC and GMT offsets for everything else.
func zoneName(t time.Time, zone string, long bool) string {
	if zone == "UTC" {
		if long {
			return "Coordinated Universal Time"
		}
		return "UTC"
	}
	abbr, off := t.Zone()
	if full, ok := usZoneNames[abbr]; ok && isUSZone(zone) {
		if long {
			return full
		}
		return abbr
	}
	if off == 0 {
		return "GMT"
	}
	sign := "+"
	if off < 0 {
		sign = "-"
		off = -off
	}
	h, m := off/3600, (off%3600)/60
	if long {
		return fmt.Sprintf("GMT%s%02d:%02d", sign, h, m)
	}
	if m == 0 {
		return fmt.Sprintf("GMT%s%d", sign, h)
	}
	return fmt.Sprintf("GMT%s%d:%02d", sign, h, m)
}

func uses12Hour(tag language.Tag, opts intlOptions) bool {
	if opts.Hour12 != nil {
		return *opts.Hour12
	}
	hc := opts.HourCycle
	if hc == "" {
		hc = tag.TypeForKey("hc")
	}
	switch hc {
	case "h23", "h24":
		return false
	case "h11", "h12":
		return true
	}
	return true
}

func formatDate(tag language.Tag, opts intlOptions, ms float64) (string, error) {
	loc, zone, err := loadZone(opts.TimeZone)
	if err != nil {
		return "", err
	}
	t := time.UnixMilli(int64(ms)).In(loc)
	h12 := uses12Hour(tag, opts)

	clock := func(seconds bool) string {
		layout := "15:04"
		if h12 {
			layout = "3:04"
		}
		if seconds {
			layout += ":05"
		}
		if h12 {
			layout += " PM"
		}
		return t.Format(layout)
	}

	var parts []string
	if opts.DateStyle != "" || opts.TimeStyle != "" {
		switch opts.DateStyle {
		case "":
		case "full":
			parts = append(parts, t.Format("Monday, January 2, 2006"))
		case "long":
			parts = append(parts, t.Format("January 2, 2006"))
		case "medium":
			parts = append(parts, t.Format("Jan 2, 2006"))
		case "short":
			parts = append(parts, t.Format("1/2/06"))
		default:
			return "", rangeErr("Value %s out of range for Intl.DateTimeFormat options property dateStyle", opts.DateStyle)
		}
		switch opts.TimeStyle {
		case "":
		case "full":
			parts = append(parts, clock(true)+" "+zoneName(t, zone, true))
		case "long":
			parts = append(parts, clock(true)+" "+zoneName(t, zone, false))
		case "medium":
			parts = append(parts, clock(true))
		case "short":
			parts = append(parts, clock(false))
		default:
			return "", rangeErr("Value %s out of range for Intl.DateTimeFormat options property timeStyle", opts.TimeStyle)
		}
		return strings.Join(parts, ", "), nil
	}

	if opts.Weekday == "" && opts.Year == "" && opts.Month == "" && opts.Day == "" &&
		opts.Hour == "" && opts.Minute == "" && opts.Second == "" {
		return t.Format("1/2/2006"), nil
	}

	if d := dateComponents(t, opts); d != "" {
		parts = append(parts, d)
	}
	if opts.Hour != "" || opts.Minute != "" || opts.Second != "" {
		var c string
		switch {
		case opts.Second != "":
			c = clock(true)
		case opts.Minute != "":
			c = clock(false)
		case h12:
			c = t.Format("3 PM")
		default:
			c = t.Format("15")
		}
		if opts.Hour == "2-digit" && h12 && t.Hour()%12 != 0 && t.Hour()%12 < 10 {
			c = "0" + c
		}
		if opts.TimeZoneName != "" {
			c += " " + zoneName(t, zone, opts.TimeZoneName == "long")
		}
		parts = append(parts, c)
	}
	return strings.Join(parts, ", "), nil
}

func dateComponents(t time.Time, opts intlOptions) string {
	var weekday string
	switch opts.Weekday {
	case "long":
		weekday = t.Format("Monday")
	case "short":
		weekday = t.Format("Mon")
	case "narrow":
		weekday = t.Format("Mon")[:1]
	}

	num := func(v int, style string) string {
		if style == "2-digit" {
			return fmt.Sprintf("%02d", v%100)
		}
		return strconv.Itoa(v)
	}

	var date string
	switch opts.Month {
	case "long", "short", "narrow":
		m := t.Format("January")
		if opts.Month == "short" {
			m = t.Format("Jan")
		} else if opts.Month == "narrow" {
			m = m[:1]
		}
		date = m
		if opts.Day != "" {
			date += " " + num(t.Day(), opts.Day)
		}
		if opts.Year != "" {
			if opts.Day != "" {
				date += ","
			}
			date += " " + num(t.Year(), opts.Year)
		}
	default:
		var nums []string
		if opts.Month != "" {
			nums = append(nums, num(int(t.Month()), opts.Month))
		}
		if opts.Day != "" {
			nums = append(nums, num(t.Day(), opts.Day))
		}
		if opts.Year != "" {
			nums = append(nums, num(t.Year(), opts.Year))
		}
		date = strings.Join(nums, "/")
	}

	switch {
	case weekday != "" && date != "":
		return weekday + ", " + date
	case weekday != "":
		return weekday
	}
	return date
}
