package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"example.com/panelstages/internal/logging"
)

var _ = Describe("New", func() {
	It("writes json records at or above the configured level", func() {
		var buf bytes.Buffer
		logger, err := logging.New(logging.Options{Level: "warn", Format: "json", Output: &buf})
		Expect(err).NotTo(HaveOccurred())

		logger.Info("skipped")
		logger.Warn("sync drop", "panel_id", "p-1")

		var rec map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &rec)).To(Succeed())
		Expect(rec["msg"]).To(Equal("sync drop"))
		Expect(rec["panel_id"]).To(Equal("p-1"))
	})

	It("rejects unknown formats", func() {
		_, err := logging.New(logging.Options{Format: "xml"})
		Expect(err).To(MatchError(ContainSubstring("xml")))
	})

	It("defaults unknown levels to info", func() {
		Expect(logging.ParseLevel("loud")).To(Equal(slog.LevelInfo))
		Expect(logging.ParseLevel("DEBUG")).To(Equal(slog.LevelDebug))
	})
})
