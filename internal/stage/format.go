package stage

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// DefaultLocale is used when a requested locale cannot be matched.
const DefaultLocale = "en-US"

const (
	keyDate     = "deadline.date"
	keyDateTime = "deadline.datetime"
	keyClock    = "deadline.clock"
)

type localeMessages struct {
	tag      language.Tag
	months   [12]string
	date     string // args: day, month name, year
	dateTime string // args: date, clock
	clock    string // time.Format layout
}

var locales = []localeMessages{
	{
		tag:      language.AmericanEnglish,
		months:   [12]string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
		date:     "%[2]s %[1]s, %[3]s",
		dateTime: "%[1]s at %[2]s",
		clock:    "3:04 PM",
	},
	{
		tag:      language.BritishEnglish,
		months:   [12]string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
		date:     "%[1]s %[2]s %[3]s",
		dateTime: "%[1]s at %[2]s",
		clock:    "15:04",
	},
	{
		tag:      language.Spanish,
		months:   [12]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
		date:     "%[1]s de %[2]s de %[3]s",
		dateTime: "%[1]s, %[2]s",
		clock:    "15:04",
	},
	{
		tag:      language.French,
		months:   [12]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"},
		date:     "%[1]s %[2]s %[3]s",
		dateTime: "%[1]s à %[2]s",
		clock:    "15:04",
	},
	{
		tag:      language.German,
		months:   [12]string{"Januar", "Februar", "März", "April", "Mai", "Juni", "Juli", "August", "September", "Oktober", "November", "Dezember"},
		date:     "%[1]s. %[2]s %[3]s",
		dateTime: "%[1]s um %[2]s",
		clock:    "15:04",
	},
	{
		tag:      language.BrazilianPortuguese,
		months:   [12]string{"janeiro", "fevereiro", "março", "abril", "maio", "junho", "julho", "agosto", "setembro", "outubro", "novembro", "dezembro"},
		date:     "%[1]s de %[2]s de %[3]s",
		dateTime: "%[1]s às %[2]s",
		clock:    "15:04",
	},
}

var (
	deadlineCatalog = buildCatalog()
	supportedTags   = func() []language.Tag {
		tags := make([]language.Tag, len(locales))
		for i, l := range locales {
			tags[i] = l.tag
		}
		return tags
	}()
	matcher = language.NewMatcher(supportedTags)
)

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.AmericanEnglish))
	for _, l := range locales {
		for i, name := range l.months {
			_ = b.SetString(l.tag, monthKey(time.Month(i+1)), name)
		}
		_ = b.SetString(l.tag, keyDate, l.date)
		_ = b.SetString(l.tag, keyDateTime, l.dateTime)
		_ = b.SetString(l.tag, keyClock, l.clock)
	}
	return b
}

func monthKey(m time.Month) string {
	return "month." + strconv.Itoa(int(m))
}

// SupportedLocales returns the locales with dedicated formatting, default first.
func SupportedLocales() []string {
	out := make([]string, len(supportedTags))
	for i, t := range supportedTags {
		out[i] = t.String()
	}
	return out
}

// ResolveLocale matches a BCP 47 locale (or an Accept-Language header value)
// against the supported locales. Unparsable or unmatched input yields DefaultLocale.
func ResolveLocale(locale string) language.Tag {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return supportedTags[0]
	}
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return supportedTags[0]
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return supportedTags[0]
	}
	return supportedTags[idx]
}

// FormatDeadline renders t as a long-form calendar date under locale,
// e.g. "January 10, 2024" for en-US. t is rendered in its own location.
func FormatDeadline(t time.Time, locale string) string {
	p := printer(locale)
	return formatDate(p, t)
}

// FormatDeadlineTime is FormatDeadline plus hour and minute. Seconds are dropped.
func FormatDeadlineTime(t time.Time, locale string) string {
	p := printer(locale)
	clock := t.Format(p.Sprintf(keyClock))
	return p.Sprintf(keyDateTime, formatDate(p, t), clock)
}

func printer(locale string) *message.Printer {
	return message.NewPrinter(ResolveLocale(locale), message.Catalog(deadlineCatalog))
}

// Numbers are passed as strings so the printer does not apply digit grouping to years.
func formatDate(p *message.Printer, t time.Time) string {
	return p.Sprintf(keyDate,
		strconv.Itoa(t.Day()),
		p.Sprintf(monthKey(t.Month())),
		strconv.Itoa(t.Year()),
	)
}
