package gpt_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"smartsmeta.app/bot/common/llm"
	"smartsmeta.app/bot/internal/estimate"
	"smartsmeta.app/bot/internal/extract"
	"smartsmeta.app/bot/internal/gpt"
)

type mockClient struct {
	respondFn func(ctx context.Context, req llm.Request) (*llm.Response, error)
	requests  []llm.Request
}

func (m *mockClient) Respond(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.requests = append(m.requests, req)
	return m.respondFn(ctx, req)
}

func (m *mockClient) Model() string {
	return "test-model"
}

func replying(id, text string) func(context.Context, llm.Request) (*llm.Response, error) {
	return func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{ID: id, Text: text}, nil
	}
}

var _ = Describe("Adapter", func() {
	var (
		ctx    context.Context
		client *mockClient
		a      *gpt.Adapter
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockClient{}
		a = gpt.NewAdapter(client)
	})

	It("sends the prompt, message and prior turn id", func() {
		client.respondFn = replying("resp_2", `{"status": "need_info", "questions": ["A?"]}`)

		turn, turnID, err := a.Exchange(ctx, "system", "hello", "resp_1")

		Expect(err).NotTo(HaveOccurred())
		Expect(turnID).To(Equal("resp_2"))
		Expect(turn.Status).To(Equal(estimate.StatusNeedInfo))
		Expect(client.requests).To(ConsistOf(llm.Request{
			Instructions:       "system",
			Input:              "hello",
			PreviousResponseID: "resp_1",
		}))
	})

	It("starts a new conversation without a prior turn id", func() {
		client.respondFn = replying("resp_1", "```json\n{\"status\": \"need_info\", \"questions\": []}\n```")

		_, turnID, err := a.Exchange(ctx, "system", "brief", "")

		Expect(err).NotTo(HaveOccurred())
		Expect(turnID).To(Equal("resp_1"))
		Expect(client.requests[0].PreviousResponseID).To(BeEmpty())
	})

	It("wraps transport failures as UpstreamError", func() {
		client.respondFn = func(context.Context, llm.Request) (*llm.Response, error) {
			return nil, errors.New("dial tcp: connection refused")
		}

		turn, turnID, err := a.Exchange(ctx, "system", "hello", "resp_1")

		Expect(turn).To(BeNil())
		Expect(turnID).To(BeEmpty())
		var upstream *gpt.UpstreamError
		Expect(errors.As(err, &upstream)).To(BeTrue())
		Expect(upstream.Retryable).To(BeTrue())
	})

	It("returns the turn id with a ProtocolError when nothing can be extracted", func() {
		client.respondFn = replying("resp_3", "Sorry, I cannot help with that.")

		turn, turnID, err := a.Exchange(ctx, "system", "hello", "resp_2")

		Expect(turn).To(BeNil())
		Expect(turnID).To(Equal("resp_3"))
		var protocol *gpt.ProtocolError
		Expect(errors.As(err, &protocol)).To(BeTrue())
		Expect(protocol.TurnID).To(Equal("resp_3"))
		var extractErr *extract.ProtocolError
		Expect(errors.As(err, &extractErr)).To(BeTrue())
		Expect(extractErr.Snippet).To(Equal("Sorry, I cannot help with that."))
	})

	It("returns a ProtocolError when the object does not validate", func() {
		client.respondFn = replying("resp_4", `{"status": "ready", "result": {"project_name": "x"}}`)

		_, turnID, err := a.Exchange(ctx, "system", "hello", "")

		Expect(turnID).To(Equal("resp_4"))
		var validation *estimate.ValidationError
		Expect(errors.As(err, &validation)).To(BeTrue())
		Expect(validation.Problems).To(ContainElement("result.scope_summary: required"))
	})
})
