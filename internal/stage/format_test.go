package stage_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"example.com/panelstages/internal/stage"
)

var _ = Describe("Deadline formatting", func() {
	t := time.Date(2024, time.January, 10, 15, 4, 59, 0, time.UTC)

	DescribeTable("long dates per locale",
		func(locale, want string) {
			Expect(stage.FormatDeadline(t, locale)).To(Equal(want))
		},
		Entry("en-US", "en-US", "January 10, 2024"),
		Entry("en-GB", "en-GB", "10 January 2024"),
		Entry("es", "es-ES", "10 de enero de 2024"),
		Entry("fr", "fr", "10 janvier 2024"),
		Entry("de", "de-DE", "10. Januar 2024"),
		Entry("pt-BR", "pt-BR", "10 de janeiro de 2024"),
	)

	It("falls back to en-US for empty or unmatched locales", func() {
		Expect(stage.FormatDeadline(t, "")).To(Equal("January 10, 2024"))
		Expect(stage.FormatDeadline(t, "%%bogus%%")).To(Equal("January 10, 2024"))
	})

	It("accepts Accept-Language style input", func() {
		Expect(stage.FormatDeadline(t, "fr-CH, fr;q=0.9, en;q=0.8")).To(Equal("10 janvier 2024"))
	})

	It("adds hour and minute but drops seconds", func() {
		Expect(stage.FormatDeadlineTime(t, "en-US")).To(Equal("January 10, 2024 at 3:04 PM"))
		Expect(stage.FormatDeadlineTime(t, "de")).To(Equal("10. Januar 2024 um 15:04"))
		Expect(stage.FormatDeadlineTime(t.Add(-59*time.Second), "de")).To(Equal("10. Januar 2024 um 15:04"))
	})

	It("renders distinct days distinctly in every supported locale", func() {
		for _, locale := range stage.SupportedLocales() {
			seen := map[string]time.Time{}
			d := time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 400; i++ {
				s := stage.FormatDeadline(d, locale)
				Expect(seen).NotTo(HaveKey(s), locale)
				seen[s] = d
				d = d.AddDate(0, 0, 1)
			}
		}
	})

	It("resolves locales to supported tags", func() {
		Expect(stage.ResolveLocale("de-AT").String()).To(Equal("de"))
		Expect(stage.ResolveLocale("zz").String()).To(Equal(stage.DefaultLocale))
		Expect(stage.SupportedLocales()[0]).To(Equal(stage.DefaultLocale))
	})
})
