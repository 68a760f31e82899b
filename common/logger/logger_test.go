package logger_test

import (
	"bytes"
	"context"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"smartsmeta.app/bot/common/logger"
)

var _ = Describe("LogFields", func() {
	It("merges newer non-empty values over older ones", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			SessionKey: logger.Ptr("tg:1"),
			Component:  "smeta.transport",
		})
		ctx = logger.WithLogFields(ctx, logger.LogFields{
			TurnID:    logger.Ptr("resp_1"),
			Component: "smeta.dialogue",
		})

		fields := logger.GetLogFields(ctx)
		Expect(*fields.SessionKey).To(Equal("tg:1"))
		Expect(*fields.TurnID).To(Equal("resp_1"))
		Expect(fields.Component).To(Equal("smeta.dialogue"))
	})

	It("is empty for a bare context", func() {
		Expect(logger.GetLogFields(context.Background())).To(Equal(logger.LogFields{}))
	})

	It("adds context fields to records through TraceHandler", func() {
		var buf bytes.Buffer
		log := slog.New(logger.NewTraceHandler(slog.NewTextHandler(&buf, nil)))
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			ChatID: logger.Ptr(int64(42)),
			Phase:  logger.Ptr("in_dialog"),
		})

		log.InfoContext(ctx, "hello")

		Expect(buf.String()).To(ContainSubstring("chat_id=42"))
		Expect(buf.String()).To(ContainSubstring("phase=in_dialog"))
	})
})

var _ = DescribeTable("Truncate",
	func(input string, maxLen int, expected string) {
		Expect(logger.Truncate(input, maxLen)).To(Equal(expected))
	},
	Entry("short string unchanged", "abc", 5, "abc"),
	Entry("exact length unchanged", "abcde", 5, "abcde"),
	Entry("long string cut", "abcdef", 3, "abc..."),
	Entry("does not split a multibyte rune", "привет", 3, "п..."),
)
